//go:build linux
// +build linux

// Package cgroups provides primitives to work with Linux Control Groups
// via pseudo file system /sys/fs/cgroup.
//
// https://www.kernel.org/doc/Documentation/cgroup-v1/cgroups.txt
// https://www.kernel.org/doc/Documentation/cgroup-v2.txt

package cgroups

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	ErrUnknownParameter = errors.New("unknown cgroup parameter")

	mountinfoFile = "/proc/self/mountinfo"
)

// Cgroup is an uniform interface for the cgroups.
type Cgroup interface {
	// Sets the cgroup parameters represented by Config
	Set(Config) error

	// Gets the actual cgroup parameters and stores them to Config
	Get(Config) error

	// Returns full path of the cgroup relative to the filesystem root
	Path() string

	Version() uint16
}

// Config specifies parameters for the various controllers.
type Config map[string]Value

func newConfig() Config {
	return make(map[string]Value)
}

// GetSubsystemMountpoint returns a path where a given subsystem is mounted
// and the version of the hierarchy.
//
// A v1 hierarchy takes precedence. Otherwise the subsystem has to be listed
// in cgroup.controllers of the unified hierarchy.
func GetSubsystemMountpoint(subsystem string) (string, uint16, error) {
	fd, err := os.Open(mountinfoFile)
	if err != nil {
		return "", 0, err
	}
	defer fd.Close()

	var v2path string

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), " ")

		if len(fields) < 10 {
			return "", 0, fmt.Errorf("cannot parse %s: unknown format", fd.Name())
		}

		switch fields[len(fields)-3] {
		case "cgroup2":
			v2path = fields[4]
		case "cgroup":
			for _, opt := range strings.Split(fields[len(fields)-1], ",") {
				if opt == subsystem {
					return fields[4], 1, nil
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", 0, err
	}

	if len(v2path) != 0 {
		b, err := os.ReadFile(filepath.Join(v2path, "cgroup.controllers"))
		if err != nil {
			return "", 0, err
		}

		for _, name := range strings.Fields(string(b)) {
			if name == subsystem {
				return v2path, 2, nil
			}
		}

		return "", 0, NewUnsupportedError(subsystem)
	}

	return "", 0, NewMountpointError(subsystem)
}

type UnsupportedError struct {
	Subsystem string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported subsystem: %s", e.Subsystem)
}

func NewUnsupportedError(subsystem string) error {
	return &UnsupportedError{subsystem}
}

func IsUnsupportedError(err error) bool {
	var e *UnsupportedError

	return errors.As(err, &e)
}

type MountpointError struct {
	subsystem string
}

func (e *MountpointError) Error() string {
	return fmt.Sprintf("mountpoint not found: subsystem = %s", e.subsystem)
}

func NewMountpointError(subsystem string) error {
	return &MountpointError{subsystem}
}

func IsMountpointError(err error) bool {
	var e *MountpointError

	return errors.As(err, &e)
}

// enableController makes the controller available to the children
// of the given v2 group.
func enableController(dir, subsystem string) error {
	b, err := os.ReadFile(filepath.Join(dir, "cgroup.subtree_control"))
	if err != nil {
		return err
	}

	for _, name := range strings.Fields(string(b)) {
		if name == subsystem {
			return nil
		}
	}

	return os.WriteFile(filepath.Join(dir, "cgroup.subtree_control"), []byte("+"+subsystem), 0644)
}

func addProcess(dir string, pid int) error {
	return os.WriteFile(filepath.Join(dir, "cgroup.procs"), []byte(strconv.Itoa(pid)), 0644)
}

func writeValue(dir, fname string, v Value) error {
	return os.WriteFile(filepath.Join(dir, fname), []byte(v.String()), 0644)
}

func readValue(dir, fname string) (Value, error) {
	b, err := os.ReadFile(filepath.Join(dir, fname))
	if err != nil {
		return nil, err
	}

	return ParseValue(string(b)), nil
}
