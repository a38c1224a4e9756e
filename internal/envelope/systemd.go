package envelope

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/0xef53/unikcache/internal/cgroups"
	"github.com/0xef53/unikcache/internal/systemd"
)

// newSystemdEnvelope asks systemd to create a transient slice with the limits
// and then spawns builds into the cgroup of that slice.
// Only the unified hierarchy is supported.
func newSystemdEnvelope(ctx context.Context, name string, limits Limits) (*cgroupEnvelope, error) {
	if len(name) == 0 {
		return nil, fmt.Errorf("empty slice name")
	}

	unitname := name
	if !strings.HasSuffix(unitname, ".slice") {
		unitname += ".slice"
	}

	systemctl, err := systemd.NewManager()
	if err != nil {
		return nil, err
	}
	defer systemctl.Close()

	err = systemctl.StartTransientSlice(
		ctx,
		unitname,
		systemd.PropCPUQuota(limits.CPUQuota),
		systemd.PropMemoryMax(limits.MemoryLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot start %s: %w", unitname, err)
	}

	cg, err := systemctl.GetControlGroup(unitname)
	if err != nil {
		return nil, err
	}

	mp, version, err := cgroups.GetSubsystemMountpoint("cpu")
	if err != nil {
		return nil, err
	}
	if version != 2 {
		return nil, fmt.Errorf("systemd envelope requires the unified cgroup hierarchy")
	}

	mgr, err := cgroups.LoadUnifiedManager(filepath.Join(mp, cg), subsystems...)
	if err != nil {
		return nil, err
	}

	env, err := setupCgroupEnvelope(mgr, limits)
	if err != nil {
		return nil, err
	}

	// Check that systemd really applied the CPU limit
	if q, err := mgr.GetCpuQuota(); err == nil && q != limits.CPUQuota {
		env.Close()

		return nil, fmt.Errorf("unexpected CPU quota of %s: want %d%%, got %d%%", unitname, limits.CPUQuota, q)
	}

	return env, nil
}
