package envelope

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/0xef53/unikcache/unikernel"
)

func TestUnconfinedIsRefused(t *testing.T) {
	_, err := New(context.Background(), &Options{Kind: KindNone})

	if !unikernel.IsResourceSetupError(err) || !errors.Is(err, ErrUnconfined) {
		t.Fatalf("got unexpected error:\nwant error:\tResourceSetupError(ErrUnconfined)\ngot error:\t%v", err)
	}

	env, err := New(context.Background(), &Options{Kind: KindNone, AllowUnconfined: true})
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	defer env.Close()

	if env.String() != "unconfined" {
		t.Fatalf("got unexpected description: %s", env)
	}
}

func TestUnknownKind(t *testing.T) {
	_, err := New(context.Background(), &Options{Kind: "docker"})

	if !unikernel.IsResourceSetupError(err) || !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("got unexpected error:\nwant error:\tResourceSetupError(ErrUnknownKind)\ngot error:\t%v", err)
	}
}

func TestEmptyName(t *testing.T) {
	_, err := New(context.Background(), &Options{Kind: KindCgroupfs})

	if !unikernel.IsResourceSetupError(err) {
		t.Fatalf("got unexpected error:\nwant error:\tResourceSetupError\ngot error:\t%v", err)
	}
}

func TestPrepareUnified(t *testing.T) {
	fd, err := os.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	env := &cgroupEnvelope{dir: fd}
	defer env.Close()

	cmd := exec.Command("true")

	if err := env.Prepare(cmd); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.UseCgroupFD || cmd.SysProcAttr.CgroupFD != int(fd.Fd()) {
		t.Fatalf("command is not bound to the cgroup: %+v", cmd.SysProcAttr)
	}

	// The process is already in the group
	if err := env.Attach(1); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
}

func TestLimitsString(t *testing.T) {
	values := map[string]Limits{
		"cpu = unlimited, memory = unlimited": {},
		"cpu = 50%, memory = 20 MiB":          {CPUQuota: 50, MemoryLimit: 20 << 20},
	}

	for want, l := range values {
		if got := l.String(); got != want {
			t.Fatalf("got invalid string:\nwant:\t%q\ngot:\t%q", want, got)
		}
	}
}
