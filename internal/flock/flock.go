package flock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

var (
	ErrAcquireLock = errors.New("could not acquire lock")
	ErrNotLocked   = errors.New("lock is not held")

	// How often a busy lock is re-checked
	PollInterval = 100 * time.Millisecond
)

// FileLocker is the structure that wraps exclusive file locking functionality.
//
// The lock is bound to the open file description, so it excludes
// other processes as well as other lockers of the same process.
type FileLocker struct {
	f *os.File
}

// NewLocker creates new locker instance for a file path.
// The parent directory is created if needed.
func NewLocker(fname string) (*FileLocker, error) {
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	return &FileLocker{f}, nil
}

// Path returns the lock file name.
func (l *FileLocker) Path() string {
	return l.f.Name()
}

// Acquire tries to lock the file for writing (exclusive lock) using flock(2).
// If the function cannot obtain a lock during the timeout or the context
// is cancelled, it returns an error wrapping ErrAcquireLock.
func (l *FileLocker) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
		default:
			return fmt.Errorf("%w: %s: %w", ErrAcquireLock, l.f.Name(), err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrAcquireLock, l.f.Name(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// TryAcquire makes a single non-blocking attempt to lock the file.
func (l *FileLocker) TryAcquire() (bool, error) {
	switch err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return false, nil
	default:
		return false, err
	}
}

// Release releases the lock on the file.
func (l *FileLocker) Release() error {
	if l.f == nil {
		return ErrNotLocked
	}

	defer func() {
		l.f.Close()
		l.f = nil
	}()

	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

// Lock creates a locker for fname and acquires it in one step.
func Lock(ctx context.Context, fname string, timeout time.Duration) (*FileLocker, error) {
	l, err := NewLocker(fname)
	if err != nil {
		return nil, err
	}

	if err := l.Acquire(ctx, timeout); err != nil {
		l.f.Close()

		return nil, err
	}

	return l, nil
}
