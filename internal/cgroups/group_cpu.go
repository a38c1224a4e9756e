//go:build linux
// +build linux

package cgroups

import (
	"errors"
	"fmt"
	"os"
)

var (
	ErrCfsNotSupported = errors.New("make sure that CONFIG_CFS_BANDWIDTH option is enabled in your kernel")
)

// Group_CPU is an implementation of the common Cgroup interface.
type Group_CPU struct {
	path    string
	version uint16
}

func (g *Group_CPU) Path() string {
	return g.path
}

func (g *Group_CPU) Version() uint16 {
	return g.version
}

func (g *Group_CPU) params() []string {
	if g.version == 1 {
		return []string{"cpu.cfs_period_us", "cpu.cfs_quota_us"}
	}

	return []string{"cpu.max"}
}

func (g *Group_CPU) Set(c Config) error {
	known := make(map[string]struct{})

	for _, p := range g.params() {
		known[p] = struct{}{}
	}

	for param, v := range c {
		if _, ok := known[param]; !ok {
			// Parameters of the other controllers
			continue
		}

		if err := writeValue(g.path, param, v); err != nil {
			if os.IsNotExist(err) {
				return ErrCfsNotSupported
			}
			return err
		}
	}

	return nil
}

func (g *Group_CPU) Get(c Config) error {
	if c == nil {
		return fmt.Errorf("nil config")
	}

	for _, param := range g.params() {
		if v, err := readValue(g.path, param); err == nil {
			c[param] = v
		} else {
			if !os.IsNotExist(err) {
				return err
			}
		}
	}

	return nil
}
