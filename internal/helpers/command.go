package helpers

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// CommandExitCode extracts the exit code from the error returned by exec.Cmd.Wait.
// The second value is false if err does not come from a finished process.
func CommandExitCode(err error) (int, bool) {
	if err == nil {
		return 0, true
	}

	var exitCode int

	var exiterr *exec.ExitError

	if errors.As(err, &exiterr) {
		status := exiterr.Sys().(syscall.WaitStatus)

		switch {
		case status.Exited():
			exitCode = status.ExitStatus()
		case status.Signaled():
			exitCode = 128 + int(status.Signal())
		}
	} else {
		return 1, false
	}

	return exitCode, true
}

// ResolveExecutable returns an absolute path of the given executable.
// Names without a path separator are looked up in PATH.
func ResolveExecutable(fname string) (string, error) {
	if filepath.Base(fname) == fname {
		p, err := exec.LookPath(fname)
		if err != nil {
			return "", err
		}
		fname = p
	}

	st, err := os.Stat(fname)
	if err != nil {
		return "", err
	}

	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("not a file: %s", fname)
	}

	if st.Mode()&0111 == 0 {
		return "", fmt.Errorf("not executable: %s", fname)
	}

	return filepath.Abs(fname)
}

// TailOutput returns at most n last bytes of the command output.
func TailOutput(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}

	return string(b)
}
