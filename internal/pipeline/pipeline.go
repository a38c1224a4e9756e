// Package pipeline composes the source mirror, the builder and the format
// converter into the per-request check-build-publish sequence.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/0xef53/unikcache/internal/flock"
	"github.com/0xef53/unikcache/internal/helpers"
	"github.com/0xef53/unikcache/internal/mirror"
	"github.com/0xef53/unikcache/unikernel"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type SourceMirror interface {
	FetchAndDiff(context.Context, string) (bool, error)
	Pull(context.Context, string) error
}

// MirrorOpener returns the mirror of url at localPath, cloning it if needed.
type MirrorOpener func(ctx context.Context, url, localPath string) (SourceMirror, error)

type ImageBuilder interface {
	Build(ctx context.Context, sourceDir, artifactName string) (*unikernel.BuildArtifact, error)
}

type ImageConverter interface {
	ConvertAndPublish(ctx context.Context, artifact *unikernel.BuildArtifact, destPath string) error
}

// GitMirrors opens go-git based mirrors.
func GitMirrors(ctx context.Context, url, localPath string) (SourceMirror, error) {
	m, err := mirror.EnsureCloned(ctx, url, localPath)
	if err != nil {
		return nil, err
	}

	return m, nil
}

type Config struct {
	RepoBase string
	CacheDir string
	LocksDir string
	Branch   string

	LockTimeout time.Duration

	Policy Policy
}

type Deps struct {
	Mirrors   MirrorOpener
	Builder   ImageBuilder
	Converter ImageConverter
	Catalog   unikernel.ImageCatalog
	Cache     unikernel.ImageCache
}

// Orchestrator runs the pipeline under the keyed lock.
// It is safe for concurrent use.
type Orchestrator struct {
	conf Config
	deps Deps
}

func New(conf Config, deps Deps) (*Orchestrator, error) {
	if len(conf.RepoBase) == 0 {
		conf.RepoBase = unikernel.DEFAULT_REPO_BASE
	}
	if len(conf.Branch) == 0 {
		conf.Branch = unikernel.DEFAULT_BRANCH
	}
	if len(conf.CacheDir) == 0 {
		return nil, fmt.Errorf("empty cache directory")
	}
	if len(conf.LocksDir) == 0 {
		conf.LocksDir = filepath.Join(filepath.Dir(conf.CacheDir), unikernel.LOCKS_SUBDIR)
	}
	if conf.Policy == nil {
		conf.Policy = DefaultPolicy
	}

	if deps.Mirrors == nil {
		deps.Mirrors = GitMirrors
	}
	if deps.Builder == nil || deps.Converter == nil {
		return nil, fmt.Errorf("builder and converter are required")
	}

	return &Orchestrator{conf: conf, deps: deps}, nil
}

// CachePath returns the location of the cache entry with the given file name.
func (o *Orchestrator) CachePath(filename string) string {
	return filepath.Join(o.conf.CacheDir, filepath.Base(filename))
}

// ProvideImage resolves the image reference, refreshes the cache entry if needed
// and hands the cache file over to the image cache. The image cache is called
// even when the refresh failed: its own fallback fetch applies in that case.
func (o *Orchestrator) ProvideImage(ctx context.Context, req *unikernel.ProvisionRequest) error {
	if o.deps.Cache == nil {
		return fmt.Errorf("image cache is required")
	}

	logger := log.WithFields(log.Fields{
		"request-id": shortID(),
		"image-ref":  req.ImageRef,
	})

	imageID, filename, _, runErr := o.refreshRef(ctx, logger, req.ImageRef, req.Filename)

	cacheErr := o.deps.Cache.Cache(ctx, &unikernel.CacheRequest{
		Fetch:     req.Fetch,
		Filename:  filename,
		ImageID:   imageID,
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Size:      req.Size,
	})

	if runErr != nil {
		if cacheErr != nil {
			logger.Errorf("Image cache failed: %s", cacheErr)
		}
		return runErr
	}

	if cacheErr != nil {
		return fmt.Errorf("image cache: %w", cacheErr)
	}

	return nil
}

// Refresh resolves the image reference and runs the pipeline for it
// without reporting to the image cache. An empty filename means
// the default cache file name of the image.
func (o *Orchestrator) Refresh(ctx context.Context, imageRef, filename string) (Outcome, error) {
	logger := log.WithFields(log.Fields{
		"request-id": shortID(),
		"image-ref":  imageRef,
	})

	_, _, outcome, err := o.refreshRef(ctx, logger, imageRef, filename)

	return outcome, err
}

func (o *Orchestrator) refreshRef(ctx context.Context, logger *log.Entry, imageRef, filename string) (string, string, Outcome, error) {
	if o.deps.Catalog == nil {
		return "", "", OutcomeFailed, fmt.Errorf("image catalog is required")
	}

	img, err := o.deps.Catalog.Resolve(ctx, imageRef)
	if err != nil {
		// Without the repository URL nothing can be built,
		// but the caller's fallback still may provide the image
		if len(filename) == 0 {
			filename = unikernel.CacheFilename(imageRef)
		}

		outcome, err := o.handle(logger, &unikernel.RepositoryError{Op: "resolve", Path: imageRef, Err: err})

		return imageRef, filename, outcome, err
	}

	if len(filename) == 0 {
		filename = unikernel.CacheFilename(img.ID)
	}

	key := unikernel.ImageKey{
		ID:            img.ID,
		RepositoryURL: img.Name,
		Branch:        o.conf.Branch,
	}

	outcome, err := o.run(ctx, logger.WithField("image-id", img.ID), &key, o.CachePath(filename))

	return img.ID, filename, outcome, err
}

// Run refreshes the cache entry at destPath from the source of the given image.
// Errors are returned only if the policy does not absorb them.
func (o *Orchestrator) Run(ctx context.Context, key *unikernel.ImageKey, destPath string) (Outcome, error) {
	logger := log.WithFields(log.Fields{
		"request-id": shortID(),
		"image-id":   key.ID,
	})

	return o.run(ctx, logger, key, destPath)
}

func (o *Orchestrator) run(ctx context.Context, logger *log.Entry, key *unikernel.ImageKey, destPath string) (Outcome, error) {
	logger = logger.WithField("filename", filepath.Base(destPath))

	transit(logger, StateIdle)

	lockfile := filepath.Join(o.conf.LocksDir, unikernel.LockName(destPath))

	lock, err := flock.Lock(ctx, lockfile, o.conf.LockTimeout)
	if err != nil {
		return o.handle(logger, &unikernel.LockError{Name: lockfile, Err: err})
	}

	outcome, err := o.refresh(ctx, logger, key, destPath)

	if err := lock.Release(); err != nil {
		logger.Warnf("Unable to release lock %s: %s", lockfile, err)
	}

	transit(logger, StateUnlocked)
	transit(logger, StateDone)

	return outcome, err
}

// refresh must be called with the keyed lock held.
func (o *Orchestrator) refresh(ctx context.Context, logger *log.Entry, key *unikernel.ImageKey, destPath string) (Outcome, error) {
	transit(logger, StateLocked)
	transit(logger, StateChecking)

	branch := key.Branch
	if len(branch) == 0 {
		branch = o.conf.Branch
	}

	sourceDir := unikernel.MirrorPath(o.conf.RepoBase, key.ID)

	m, err := o.deps.Mirrors(ctx, key.RepositoryURL, sourceDir)
	if err != nil {
		return o.handle(logger, err)
	}

	hasChanges, err := m.FetchAndDiff(ctx, branch)
	if err != nil {
		return o.handle(logger, err)
	}

	present, err := helpers.FileExists(destPath)
	if err != nil {
		logger.Warnf("Unable to check the cache entry: %s", err)
	}

	if !hasChanges && present {
		transit(logger, StateUnchanged)
		transit(logger, StateSkip)

		return OutcomeSkipped, nil
	}

	transit(logger, StateChanged)

	if hasChanges {
		logger.Infof("New commits found on branch %s", branch)

		if err := m.Pull(ctx, branch); err != nil {
			return o.handle(logger, err)
		}
	} else {
		logger.Info("Cache entry is absent")
	}

	transit(logger, StateBuild)

	started := time.Now()

	artifact, err := o.deps.Builder.Build(ctx, sourceDir, filepath.Base(destPath)+unikernel.BUILD_SUFFIX)
	if err != nil {
		return o.handle(logger, err)
	}

	logger.Infof("Build completed in %s", time.Since(started).Round(time.Second))

	transit(logger, StateConvert)

	if err := o.deps.Converter.ConvertAndPublish(ctx, artifact, destPath); err != nil {
		return o.handle(logger, err)
	}

	logger.Infof("Published to %s", destPath)

	return OutcomeRebuilt, nil
}

func (o *Orchestrator) handle(logger *log.Entry, err error) (Outcome, error) {
	transit(logger, StateFailed)

	logger = logger.WithField("kind", unikernel.KindOf(err))

	switch o.conf.Policy.ActionFor(err) {
	case Absorb:
		logger.Warnf("Refresh failed, keeping the current cache entry: %s", err)

		return OutcomeFailed, nil
	case Fatal:
		logger.Errorf("Fatal: %s", err)
	default:
		logger.Errorf("Refresh failed: %s", err)
	}

	return OutcomeFailed, err
}

func transit(logger *log.Entry, s State) {
	logger.WithField("state", s).Debug("Pipeline state changed")
}

func shortID() string {
	return strings.Split(uuid.New().String(), "-")[0]
}
