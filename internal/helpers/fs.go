package helpers

import (
	"os"
)

// FileExists reports whether fname exists and is a regular file.
func FileExists(fname string) (bool, error) {
	switch fi, err := os.Stat(fname); {
	case err == nil:
		return fi.Mode().IsRegular(), nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// SyncDir flushes the directory entry changes (e.g. after rename) to disk.
func SyncDir(dir string) error {
	fd, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer fd.Close()

	return fd.Sync()
}
