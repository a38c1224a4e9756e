package envelope

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/0xef53/unikcache/internal/cgroups"
)

var subsystems = []string{"cpu", "memory"}

// cgroupEnvelope keeps builds in a cgroup managed by this process.
//
// With the unified hierarchy the child is spawned directly into the group
// (clone3 with CLONE_INTO_CGROUP), so it never runs unconfined.
// With v1 hierarchies the PID is moved right after the start.
type cgroupEnvelope struct {
	mgr    *cgroups.Manager
	dir    *os.File
	limits Limits
}

func newCgroupEnvelope(name string, limits Limits) (*cgroupEnvelope, error) {
	if len(name) == 0 {
		return nil, fmt.Errorf("empty cgroup name")
	}

	mgr, err := cgroups.NewManager(name, subsystems...)
	if err != nil {
		return nil, err
	}

	return setupCgroupEnvelope(mgr, limits)
}

func setupCgroupEnvelope(mgr *cgroups.Manager, limits Limits) (*cgroupEnvelope, error) {
	if err := mgr.SetCpuQuota(limits.CPUQuota); err != nil {
		return nil, fmt.Errorf("cannot set CPU quota: %w", err)
	}

	if err := mgr.SetMemoryLimit(limits.MemoryLimit); err != nil {
		return nil, fmt.Errorf("cannot set memory limit: %w", err)
	}

	env := cgroupEnvelope{
		mgr:    mgr,
		limits: limits,
	}

	if p, ok := mgr.UnifiedPath(); ok {
		fd, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		env.dir = fd
	}

	return &env, nil
}

func (e *cgroupEnvelope) Prepare(cmd *exec.Cmd) error {
	if e.dir == nil {
		return nil
	}

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = new(syscall.SysProcAttr)
	}

	cmd.SysProcAttr.UseCgroupFD = true
	cmd.SysProcAttr.CgroupFD = int(e.dir.Fd())

	return nil
}

func (e *cgroupEnvelope) Attach(pid int) error {
	if e.dir != nil {
		// Already there
		return nil
	}

	return e.mgr.AddProcess(pid)
}

func (e *cgroupEnvelope) String() string {
	if e.dir != nil {
		return fmt.Sprintf("cgroup v2 %s (%s)", e.dir.Name(), e.limits)
	}

	return fmt.Sprintf("cgroup v1 %v (%s)", e.mgr.Paths(), e.limits)
}

func (e *cgroupEnvelope) Close() error {
	if e.dir != nil {
		return e.dir.Close()
	}

	return nil
}
