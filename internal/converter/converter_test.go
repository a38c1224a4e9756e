package converter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/0xef53/unikcache/unikernel"
)

// Arguments: convert -f <fmt> -O raw <src> <dst>
const fakeQemuImg = `#!/bin/sh
[ "$1" = "convert" ] || exit 64
if grep -q corrupt "$6"; then
	echo "Could not open '$6': Image is not in qcow2 format" >&2
	exit 1
fi
{ echo "raw"; cat "$6"; } > "$7"
`

func newTestConverter(t *testing.T) *Converter {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}

	binary := filepath.Join(t.TempDir(), "qemu-img")
	if err := os.WriteFile(binary, []byte(fakeQemuImg), 0755); err != nil {
		t.Fatal(err)
	}

	c, err := New(binary)
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	return c
}

func newArtifact(t *testing.T, content, format string) *unikernel.BuildArtifact {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "abc.build")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	fname := filepath.Join(dir, "abc.build."+format)
	if err := os.WriteFile(fname, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	return &unikernel.BuildArtifact{Path: fname, Format: format}
}

func listTempFiles(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var names []string

	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			names = append(names, e.Name())
		}
	}

	return names
}

func TestConvertAndPublish(t *testing.T) {
	c := newTestConverter(t)

	artifact := newArtifact(t, "new image\n", "qemu")
	dest := filepath.Join(t.TempDir(), "abc")

	if err := os.WriteFile(dest, []byte("old image\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := c.ConvertAndPublish(context.Background(), artifact, dest); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if b, _ := os.ReadFile(dest); string(b) != "raw\nnew image\n" {
		t.Fatalf("got invalid content of the cache entry: %q", b)
	}

	if _, err := os.Stat(filepath.Dir(artifact.Path)); !os.IsNotExist(err) {
		t.Fatalf("build directory must be removed after publishing")
	}

	if names := listTempFiles(t, filepath.Dir(dest)); len(names) != 0 {
		t.Fatalf("temporary files are left behind: %v", names)
	}
}

func TestConvertRawIsCopied(t *testing.T) {
	c := newTestConverter(t)

	artifact := newArtifact(t, "already raw\n", "img")
	dest := filepath.Join(t.TempDir(), "sub", "abc")

	if err := c.ConvertAndPublish(context.Background(), artifact, dest); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if b, _ := os.ReadFile(dest); string(b) != "already raw\n" {
		t.Fatalf("got invalid content of the cache entry: %q", b)
	}
}

func TestConvertFailureKeepsPreviousEntry(t *testing.T) {
	c := newTestConverter(t)

	artifact := newArtifact(t, "corrupt\n", "qemu")
	dest := filepath.Join(t.TempDir(), "abc")

	if err := os.WriteFile(dest, []byte("old image\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := c.ConvertAndPublish(context.Background(), artifact, dest)

	if !unikernel.IsConversionError(err) {
		t.Fatalf("got unexpected error:\nwant error:\tConversionError\ngot error:\t%v", err)
	}

	if b, _ := os.ReadFile(dest); string(b) != "old image\n" {
		t.Fatalf("previous cache entry was changed: %q", b)
	}

	if _, err := os.Stat(artifact.Path); err != nil {
		t.Fatalf("artifact must be kept after a failed conversion: %s", err)
	}

	if names := listTempFiles(t, filepath.Dir(dest)); len(names) != 0 {
		t.Fatalf("temporary files are left behind: %v", names)
	}
}

func TestConvertMissingArtifact(t *testing.T) {
	c := newTestConverter(t)

	dest := filepath.Join(t.TempDir(), "abc")

	artifact := &unikernel.BuildArtifact{Path: filepath.Join(t.TempDir(), "nonexistent.qemu"), Format: "qemu"}

	if err := c.ConvertAndPublish(context.Background(), artifact, dest); !unikernel.IsConversionError(err) {
		t.Fatalf("got unexpected error:\nwant error:\tConversionError\ngot error:\t%v", err)
	}

	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("nothing must be published for a missing artifact")
	}
}

func TestConvertUnknownFormat(t *testing.T) {
	c := newTestConverter(t)

	artifact := newArtifact(t, "data\n", "iso")

	if err := c.ConvertAndPublish(context.Background(), artifact, filepath.Join(t.TempDir(), "abc")); !unikernel.IsConversionError(err) {
		t.Fatalf("got unexpected error:\nwant error:\tConversionError\ngot error:\t%v", err)
	}
}
