package unikernel

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownBranch  = errors.New("unknown branch")
	ErrNotFastForward = errors.New("non-fast-forward update")
	ErrNoFallback     = errors.New("no fallback source configured")
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRepository
	KindBuild
	KindConversion
	KindLock
	KindResourceSetup
)

func (k ErrorKind) String() string {
	switch k {
	case KindRepository:
		return "repository"
	case KindBuild:
		return "build"
	case KindConversion:
		return "conversion"
	case KindLock:
		return "lock"
	case KindResourceSetup:
		return "resource-setup"
	}

	return "unknown"
}

// KindOf returns the kind of the first error in err's chain
// that belongs to the taxonomy.
func KindOf(err error) ErrorKind {
	var (
		repoErr  *RepositoryError
		buildErr *BuildError
		convErr  *ConversionError
		lockErr  *LockError
		setupErr *ResourceSetupError
	)

	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &setupErr):
		return KindResourceSetup
	case errors.As(err, &lockErr):
		return KindLock
	case errors.As(err, &repoErr):
		return KindRepository
	case errors.As(err, &buildErr):
		return KindBuild
	case errors.As(err, &convErr):
		return KindConversion
	}

	return KindUnknown
}

type RepositoryError struct {
	Op   string
	Path string
	Err  error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository: %s %s: %s", e.Op, e.Path, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func IsRepositoryError(err error) bool {
	var e *RepositoryError

	return errors.As(err, &e)
}

type BuildError struct {
	Target   string
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildError) Error() string {
	if len(e.Output) > 0 {
		return fmt.Sprintf("build %s failed (exit code = %d): %s: %s", e.Target, e.ExitCode, e.Err, e.Output)
	}

	return fmt.Sprintf("build %s failed (exit code = %d): %s", e.Target, e.ExitCode, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func IsBuildError(err error) bool {
	var e *BuildError

	return errors.As(err, &e)
}

type ConversionError struct {
	Source string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion of %s: %s", e.Source, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func IsConversionError(err error) bool {
	var e *ConversionError

	return errors.As(err, &e)
}

type LockError struct {
	Name string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %s: %s", e.Name, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

func IsLockError(err error) bool {
	var e *LockError

	return errors.As(err, &e)
}

// ResourceSetupError means that the build envelope could not be configured.
// Builds must not run in that case.
type ResourceSetupError struct {
	Err error
}

func (e *ResourceSetupError) Error() string {
	return fmt.Sprintf("resource envelope: %s", e.Err)
}

func (e *ResourceSetupError) Unwrap() error {
	return e.Err
}

func IsResourceSetupError(err error) bool {
	var e *ResourceSetupError

	return errors.As(err, &e)
}
