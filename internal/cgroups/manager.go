//go:build linux
// +build linux

package cgroups

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotMounted = errors.New("controller not mounted")
)

// Manager is a wrapper around the several cgroups to more convenient using.
type Manager struct {
	name    string
	cgroups map[string]Cgroup
}

func newGroup(subsystem, fullpath string, version uint16) (Cgroup, error) {
	switch subsystem {
	case "cpu":
		return &Group_CPU{path: fullpath, version: version}, nil
	case "memory":
		return &Group_MEMORY{path: fullpath, version: version}, nil
	}

	return nil, NewUnsupportedError(subsystem)
}

// NewManager creates (or reuses) the control group with the given relative
// name in the hierarchies of the specified subsystems.
func NewManager(name string, subsystems ...string) (*Manager, error) {
	m := Manager{
		name:    name,
		cgroups: make(map[string]Cgroup),
	}

	for _, subsystem := range subsystems {
		mp, version, err := GetSubsystemMountpoint(subsystem)
		if err != nil {
			return nil, err
		}

		fullpath := filepath.Join(mp, name)

		if version == 2 {
			// Every ancestor has to delegate the controller to its children,
			// starting from the root of the hierarchy
			p := mp
			if err := enableController(p, subsystem); err != nil {
				return nil, fmt.Errorf("cannot enable %s controller in %s: %w", subsystem, p, err)
			}

			if dir := filepath.Dir(filepath.Clean(name)); dir != "." {
				for _, part := range strings.Split(dir, string(filepath.Separator)) {
					p = filepath.Join(p, part)

					if err := os.MkdirAll(p, 0755); err != nil {
						return nil, err
					}
					if err := enableController(p, subsystem); err != nil {
						return nil, fmt.Errorf("cannot enable %s controller in %s: %w", subsystem, p, err)
					}
				}
			}
		}

		if err := os.MkdirAll(fullpath, 0755); err != nil {
			return nil, err
		}

		g, err := newGroup(subsystem, fullpath, version)
		if err != nil {
			return nil, err
		}

		m.cgroups[subsystem] = g
	}

	return &m, nil
}

// LoadUnifiedManager returns a Manager for the existing v2 group
// placed at the absolute path dir.
func LoadUnifiedManager(dir string, subsystems ...string) (*Manager, error) {
	if _, err := os.Stat(filepath.Join(dir, "cgroup.procs")); err != nil {
		return nil, err
	}

	m := Manager{
		name:    dir,
		cgroups: make(map[string]Cgroup),
	}

	for _, subsystem := range subsystems {
		g, err := newGroup(subsystem, dir, 2)
		if err != nil {
			return nil, err
		}

		m.cgroups[subsystem] = g
	}

	return &m, nil
}

// Paths returns the list of unique directories of the cgroup set.
func (m *Manager) Paths() []string {
	seen := make(map[string]struct{})
	paths := make([]string, 0, len(m.cgroups))

	for _, g := range m.cgroups {
		if _, ok := seen[g.Path()]; !ok {
			seen[g.Path()] = struct{}{}
			paths = append(paths, g.Path())
		}
	}

	return paths
}

// UnifiedPath returns the group directory if all the controllers
// belong to the v2 hierarchy.
func (m *Manager) UnifiedPath() (string, bool) {
	var p string

	for _, g := range m.cgroups {
		if g.Version() != 2 {
			return "", false
		}
		p = g.Path()
	}

	return p, len(p) != 0
}

// AddProcess moves the process into every group of the set.
func (m *Manager) AddProcess(pid int) error {
	for _, p := range m.Paths() {
		if err := addProcess(p, pid); err != nil {
			return fmt.Errorf("cannot add PID %d to %s: %w", pid, p, err)
		}
	}

	return nil
}

// GetCpuQuota returns the CPU limit in percent of one core. Zero means no limit.
func (m *Manager) GetCpuQuota() (int64, error) {
	g, ok := m.cgroups["cpu"]
	if !ok {
		return 0, fmt.Errorf("%w: cpu", ErrNotMounted)
	}

	cfg := newConfig()

	if err := g.Get(cfg); err != nil {
		return 0, err
	}

	var timeQuota, period int64
	var err error

	if g.Version() == 1 {
		qv, ok1 := cfg["cpu.cfs_quota_us"]
		pv, ok2 := cfg["cpu.cfs_period_us"]

		if !ok1 || !ok2 || len(qv) != 1 || len(pv) != 1 {
			return 0, ErrCfsNotSupported
		}

		if timeQuota, err = qv.Int64(0); err != nil {
			return 0, err
		}
		if timeQuota == -1 {
			// ok, no limit set
			return 0, nil
		}

		if period, err = pv.Int64(0); err != nil {
			return 0, err
		}
	} else {
		value, ok := cfg["cpu.max"]
		if !ok || len(value) != 2 {
			return 0, ErrCfsNotSupported
		}

		if value.IsMax(0) {
			// ok, no limit set
			return 0, nil
		}

		if timeQuota, err = value.Int64(0); err != nil {
			return 0, fmt.Errorf("invalid value of cpu.max: %w", err)
		}
		if period, err = value.Int64(1); err != nil {
			return 0, err
		}
	}

	if timeQuota == 0 || period == 0 {
		return 0, nil
	}

	return timeQuota * 100 / period, nil
}

// SetCpuQuota limits the CPU time of the group in percent of one core:
// 50 is a half of a core, 200 is two cores. Zero removes the limit.
func (m *Manager) SetCpuQuota(quota int64) error {
	g, ok := m.cgroups["cpu"]
	if !ok {
		return fmt.Errorf("%w: cpu", ErrNotMounted)
	}

	curCfg := newConfig()
	newCfg := newConfig()

	if err := g.Get(curCfg); err != nil {
		return err
	}

	if g.Version() == 1 {
		if quota == 0 {
			newCfg["cpu.cfs_quota_us"] = mustValue(-1)
		} else {
			value, ok := curCfg["cpu.cfs_period_us"]
			if !ok || len(value) != 1 {
				return ErrCfsNotSupported
			}

			period, err := value.Int64(0)
			if err != nil {
				return err
			}

			newCfg["cpu.cfs_quota_us"] = mustValue((period * quota) / 100)
		}
	} else {
		if quota == 0 {
			newCfg["cpu.max"] = mustValue("max")
		} else {
			value, ok := curCfg["cpu.max"]
			if !ok || len(value) != 2 {
				return ErrCfsNotSupported
			}

			period, err := value.Int64(1)
			if err != nil {
				return err
			}

			// The period is kept as is
			newCfg["cpu.max"] = mustValue((period*quota)/100, period)
		}
	}

	return g.Set(newCfg)
}

// GetMemoryLimit returns the memory ceiling in bytes. Zero means no limit.
func (m *Manager) GetMemoryLimit() (int64, error) {
	g, ok := m.cgroups["memory"]
	if !ok {
		return 0, fmt.Errorf("%w: memory", ErrNotMounted)
	}

	cfg := newConfig()

	if err := g.Get(cfg); err != nil {
		return 0, err
	}

	for _, value := range cfg {
		if len(value) != 1 || value.IsMax(0) {
			return 0, nil
		}

		v, err := value.Int64(0)
		if err != nil {
			return 0, err
		}

		// v1 reports a huge page-aligned number instead of "max"
		if v < 0 || v >= (1<<62) {
			return 0, nil
		}

		return v, nil
	}

	return 0, nil
}

// SetMemoryLimit sets the memory ceiling in bytes. Zero removes the limit.
func (m *Manager) SetMemoryLimit(limit int64) error {
	g, ok := m.cgroups["memory"]
	if !ok {
		return fmt.Errorf("%w: memory", ErrNotMounted)
	}

	cfg := newConfig()

	switch {
	case g.Version() == 1 && limit == 0:
		cfg["memory.limit_in_bytes"] = mustValue(-1)
	case g.Version() == 1:
		cfg["memory.limit_in_bytes"] = mustValue(limit)
	case limit == 0:
		cfg["memory.max"] = mustValue("max")
	default:
		cfg["memory.max"] = mustValue(limit)
	}

	return g.Set(cfg)
}
