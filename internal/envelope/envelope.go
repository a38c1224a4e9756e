// Package envelope confines the external compiler to a bounded share of
// CPU time and memory. The envelope is created once at startup and shared
// by every build running on the host.
package envelope

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/0xef53/unikcache/unikernel"
)

const (
	KindCgroupfs = "cgroupfs"
	KindSystemd  = "systemd"
	KindNone     = "none"
)

var (
	ErrUnknownKind = errors.New("unknown envelope kind")
	ErrUnconfined  = errors.New("builds without resource limits are not allowed")
)

// Envelope places build processes into a resource-limited group.
type Envelope interface {
	// Prepare is called before the command starts
	Prepare(cmd *exec.Cmd) error

	// Attach is called right after the process has started.
	// The caller must kill the process if an error is returned.
	Attach(pid int) error

	String() string

	Close() error
}

type Limits struct {
	// CPU time in percent of one core, 0 = unlimited
	CPUQuota int64

	// Memory ceiling in bytes, 0 = unlimited
	MemoryLimit int64
}

func (l Limits) String() string {
	cpu, mem := "unlimited", "unlimited"

	if l.CPUQuota > 0 {
		cpu = fmt.Sprintf("%d%%", l.CPUQuota)
	}
	if l.MemoryLimit > 0 {
		mem = fmt.Sprintf("%d MiB", l.MemoryLimit>>20)
	}

	return fmt.Sprintf("cpu = %s, memory = %s", cpu, mem)
}

type Options struct {
	Kind   string
	Name   string
	Limits Limits

	AllowUnconfined bool
}

// New configures the envelope of the given kind. Any failure is returned
// as *unikernel.ResourceSetupError.
func New(ctx context.Context, opts *Options) (Envelope, error) {
	env, err := func() (Envelope, error) {
		switch opts.Kind {
		case KindCgroupfs, "":
			return newCgroupEnvelope(opts.Name, opts.Limits)
		case KindSystemd:
			return newSystemdEnvelope(ctx, opts.Name, opts.Limits)
		case KindNone:
			if !opts.AllowUnconfined {
				return nil, ErrUnconfined
			}
			return &unconfined{}, nil
		}

		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, opts.Kind)
	}()
	if err != nil {
		return nil, &unikernel.ResourceSetupError{Err: err}
	}

	return env, nil
}

type unconfined struct{}

func (e *unconfined) Prepare(_ *exec.Cmd) error { return nil }
func (e *unconfined) Attach(_ int) error        { return nil }
func (e *unconfined) String() string            { return "unconfined" }
func (e *unconfined) Close() error              { return nil }
