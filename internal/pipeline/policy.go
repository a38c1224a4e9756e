package pipeline

import (
	"github.com/0xef53/unikcache/unikernel"
)

// Action is what the orchestrator does with an error raised
// during a pipeline run.
type Action int

const (
	// Absorb logs the error and keeps the current cache entry
	Absorb Action = iota
	// Propagate returns the error to the caller
	Propagate
	// Fatal means that builds must not run at all
	Fatal
)

func (a Action) String() string {
	switch a {
	case Absorb:
		return "absorb"
	case Propagate:
		return "propagate"
	case Fatal:
		return "fatal"
	}

	return "unknown"
}

// Policy maps error kinds to actions.
// Kinds that are not listed are propagated.
type Policy map[unikernel.ErrorKind]Action

var (
	// DefaultPolicy prefers serving a possibly stale image
	// over failing the request.
	DefaultPolicy = Policy{
		unikernel.KindRepository:    Absorb,
		unikernel.KindBuild:         Absorb,
		unikernel.KindConversion:    Absorb,
		unikernel.KindLock:          Absorb,
		unikernel.KindResourceSetup: Fatal,
	}

	StrictPolicy = Policy{
		unikernel.KindRepository:    Propagate,
		unikernel.KindBuild:         Propagate,
		unikernel.KindConversion:    Propagate,
		unikernel.KindLock:          Propagate,
		unikernel.KindResourceSetup: Fatal,
	}
)

func (p Policy) ActionFor(err error) Action {
	if a, ok := p[unikernel.KindOf(err)]; ok {
		return a
	}

	return Propagate
}
