// Package builder runs the external unikernel compiler over a source tree.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/0xef53/unikcache/internal/envelope"
	"github.com/0xef53/unikcache/internal/helpers"
	"github.com/0xef53/unikcache/unikernel"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	DEFAULT_BINARY   = "capstan"
	DEFAULT_ROOT_ENV = "CAPSTAN_ROOT"
	DEFAULT_FORMAT   = "qemu"

	outputTailSize = 4096
)

var ErrTimedOut = errors.New("build timed out")

type Config struct {
	// Compiler executable, e.g. "capstan"
	Binary string

	// Environment variable that points the compiler to the output root
	RootEnv string

	// Root directory of build outputs
	RootDir string

	// Extension of the produced artifact
	Format string

	Timeout time.Duration
}

// Builder runs the compiler inside the shared resource envelope.
type Builder struct {
	conf   Config
	binary string
	env    envelope.Envelope
}

func New(conf Config, env envelope.Envelope) (*Builder, error) {
	if env == nil {
		return nil, &unikernel.ResourceSetupError{Err: fmt.Errorf("no resource envelope")}
	}

	if len(conf.Binary) == 0 {
		conf.Binary = DEFAULT_BINARY
	}
	if len(conf.RootEnv) == 0 {
		conf.RootEnv = DEFAULT_ROOT_ENV
	}
	if len(conf.Format) == 0 {
		conf.Format = DEFAULT_FORMAT
	}
	if len(conf.RootDir) == 0 {
		return nil, fmt.Errorf("empty root directory of the build outputs")
	}

	binary, err := helpers.ResolveExecutable(conf.Binary)
	if err != nil {
		return nil, fmt.Errorf("compiler not found: %w", err)
	}

	return &Builder{
		conf:   conf,
		binary: binary,
		env:    env,
	}, nil
}

// ArtifactPath returns the location where the compiler deposits the artifact
// of the given target.
func (b *Builder) ArtifactPath(artifactName string) string {
	return filepath.Join(b.conf.RootDir, artifactName, artifactName+"."+b.conf.Format)
}

// Build runs "<compiler> build <artifactName>" in sourceDir and waits for it.
// A non-zero exit is returned as *unikernel.BuildError. The existence of the
// artifact is not checked here.
func (b *Builder) Build(ctx context.Context, sourceDir, artifactName string) (*unikernel.BuildArtifact, error) {
	if b.conf.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, b.conf.Timeout)
		defer cancel()
	}

	logger := log.WithFields(log.Fields{"target": artifactName, "source": sourceDir})

	cmd := exec.CommandContext(ctx, b.binary, "build", artifactName)

	cmd.Dir = sourceDir
	cmd.Env = append(os.Environ(), b.conf.RootEnv+"="+b.conf.RootDir)

	// Own process group: the compiler spawns helpers (qemu, etc.)
	// that have to be killed together with it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 10 * time.Second

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := b.env.Prepare(cmd); err != nil {
		return nil, &unikernel.ResourceSetupError{Err: err}
	}

	logger.Infof("Running %s build %s", b.binary, artifactName)

	started := time.Now()

	if err := cmd.Start(); err != nil {
		return nil, &unikernel.BuildError{Target: artifactName, ExitCode: -1, Err: err}
	}

	if err := b.env.Attach(cmd.Process.Pid); err != nil {
		unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		cmd.Wait()

		return nil, &unikernel.ResourceSetupError{Err: err}
	}

	err := cmd.Wait()

	logger.WithField("duration", time.Since(started).Round(time.Millisecond)).Debug("Compiler finished")

	if err != nil {
		exitCode, _ := helpers.CommandExitCode(err)

		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %s", ErrTimedOut, b.conf.Timeout)
			} else {
				err = ctx.Err()
			}
		}

		return nil, &unikernel.BuildError{
			Target:   artifactName,
			ExitCode: exitCode,
			Output:   helpers.TailOutput(bytes.TrimSpace(output.Bytes()), outputTailSize),
			Err:      err,
		}
	}

	return &unikernel.BuildArtifact{
		Path:   b.ArtifactPath(artifactName),
		Format: b.conf.Format,
	}, nil
}
