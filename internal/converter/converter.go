// Package converter turns build artifacts into raw disk images
// and publishes them into the image cache.
package converter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/0xef53/unikcache/internal/helpers"
	"github.com/0xef53/unikcache/unikernel"

	log "github.com/sirupsen/logrus"
)

const (
	DEFAULT_QEMU_IMG = "qemu-img"

	// The canonical format of the cache entries
	TargetFormat = "raw"
)

// Formats known to qemu-img by the artifact extensions
var sourceFormats = map[string]string{
	"qemu":  "qcow2",
	"qcow2": "qcow2",
	"img":   "raw",
	"raw":   "raw",
	"vmdk":  "vmdk",
	"vdi":   "vdi",
}

type Converter struct {
	qemuImg string
}

func New(qemuImg string) (*Converter, error) {
	if len(qemuImg) == 0 {
		qemuImg = DEFAULT_QEMU_IMG
	}

	binary, err := helpers.ResolveExecutable(qemuImg)
	if err != nil {
		return nil, fmt.Errorf("qemu-img not found: %w", err)
	}

	return &Converter{qemuImg: binary}, nil
}

// ConvertAndPublish converts the artifact to raw format and atomically
// replaces destPath with the result. The artifact is removed on success.
//
// On failure destPath keeps its previous content and the artifact
// is left in place.
func (c *Converter) ConvertAndPublish(ctx context.Context, artifact *unikernel.BuildArtifact, destPath string) error {
	srcFormat, ok := sourceFormats[strings.ToLower(artifact.Format)]
	if !ok {
		return &unikernel.ConversionError{Source: artifact.Path, Err: fmt.Errorf("unknown format: %s", artifact.Format)}
	}

	switch fi, err := os.Stat(artifact.Path); {
	case err != nil:
		return &unikernel.ConversionError{Source: artifact.Path, Err: err}
	case !fi.Mode().IsRegular():
		return &unikernel.ConversionError{Source: artifact.Path, Err: fmt.Errorf("not a regular file")}
	case fi.Size() == 0:
		return &unikernel.ConversionError{Source: artifact.Path, Err: fmt.Errorf("empty file")}
	}

	destDir := filepath.Dir(destPath)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return &unikernel.ConversionError{Source: artifact.Path, Err: err}
	}

	// The temporary file has to be on the same filesystem as destPath
	// to make the final rename atomic
	tmpfile, err := os.CreateTemp(destDir, "."+filepath.Base(destPath)+".tmp-")
	if err != nil {
		return &unikernel.ConversionError{Source: artifact.Path, Err: err}
	}
	tmpname := tmpfile.Name()
	tmpfile.Close()

	success := false

	defer func() {
		if !success {
			os.Remove(tmpname)
		}
	}()

	if srcFormat == TargetFormat {
		err = copyFile(artifact.Path, tmpname)
	} else {
		err = c.convert(ctx, artifact.Path, srcFormat, tmpname)
	}
	if err != nil {
		return &unikernel.ConversionError{Source: artifact.Path, Err: err}
	}

	if err := syncFile(tmpname); err != nil {
		return &unikernel.ConversionError{Source: artifact.Path, Err: err}
	}

	if err := os.Chmod(tmpname, 0644); err != nil {
		return &unikernel.ConversionError{Source: artifact.Path, Err: err}
	}

	// The previous entry stays valid until this point.
	// Readers see either the old or the new file
	if err := os.Rename(tmpname, destPath); err != nil {
		return &unikernel.ConversionError{Source: artifact.Path, Err: err}
	}

	success = true

	if err := helpers.SyncDir(destDir); err != nil {
		log.WithField("dir", destDir).Warnf("Unable to sync directory: %s", err)
	}

	if err := os.Remove(artifact.Path); err != nil {
		log.WithField("artifact", artifact.Path).Warnf("Unable to remove build artifact: %s", err)
	} else {
		// Remove the build directory if it has become empty
		os.Remove(filepath.Dir(artifact.Path))
	}

	return nil
}

func (c *Converter) convert(ctx context.Context, src, srcFormat, dst string) error {
	out, err := exec.CommandContext(
		ctx,
		c.qemuImg,
		"convert",
		"-f", srcFormat,
		"-O", TargetFormat,
		src,
		dst,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("qemu-img convert failed (%s): %s", err, bytes.TrimSpace(out))
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	return out.Close()
}

func syncFile(fname string) error {
	fd, err := os.OpenFile(fname, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer fd.Close()

	return fd.Sync()
}
