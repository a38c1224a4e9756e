package unikernel

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
)

const (
	CONFDIR = "/etc/unikcache"

	DEFAULT_BRANCH         = "master"
	DEFAULT_REPO_BASE      = "/opt/stack/data/unikernel"
	DEFAULT_INSTANCES_PATH = "/opt/stack/data/nova/instances"
	DEFAULT_CACHE_SUBDIR   = "_base"

	DEFAULT_REMOTE_NAME = "origin"

	LOCKS_SUBDIR = "locks"
	LOCK_PREFIX  = "unikcache-"

	// Suffix of the per-image build output directory inside the cache directory
	BUILD_SUFFIX = ".build"
)

// ImageKey identifies one buildable image.
type ImageKey struct {
	ID            string
	RepositoryURL string
	Branch        string
}

// BuildArtifact is a compiler output file that has not been converted yet.
type BuildArtifact struct {
	Path   string
	Format string
}

// CacheFilename returns the name of the cache file for the given image ID.
// It follows the naming scheme of the generic image cache (SHA-1 of the ID),
// so that distinct images never share a file name.
func CacheFilename(imageID string) string {
	sum := sha1.Sum([]byte(imageID))

	return hex.EncodeToString(sum[:])
}

// MirrorPath returns the location of the source mirror for a given image.
func MirrorPath(repoBase, imageID string) string {
	return filepath.Join(repoBase, imageID)
}

// LockName returns the lock file name that guards the given cache file.
func LockName(filename string) string {
	return LOCK_PREFIX + filepath.Base(filename)
}
