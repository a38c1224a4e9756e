//go:build linux
// +build linux

package cgroups

import (
	"fmt"
	"os"
)

// Group_MEMORY is an implementation of the common Cgroup interface.
type Group_MEMORY struct {
	path    string
	version uint16
}

func (g *Group_MEMORY) Path() string {
	return g.path
}

func (g *Group_MEMORY) Version() uint16 {
	return g.version
}

func (g *Group_MEMORY) param() string {
	if g.version == 1 {
		return "memory.limit_in_bytes"
	}

	return "memory.max"
}

func (g *Group_MEMORY) Set(c Config) error {
	if v, ok := c[g.param()]; ok {
		return writeValue(g.path, g.param(), v)
	}

	return nil
}

func (g *Group_MEMORY) Get(c Config) error {
	if c == nil {
		return fmt.Errorf("nil config")
	}

	v, err := readValue(g.path, g.param())
	if err != nil {
		if os.IsNotExist(err) {
			return NewUnsupportedError("memory")
		}
		return err
	}

	c[g.param()] = v

	return nil
}
