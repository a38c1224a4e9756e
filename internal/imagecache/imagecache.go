// Package imagecache is a file-based implementation of the generic image cache.
// It keeps a JSON index of the cached files next to them and falls back to
// the caller's fetch function when a file is still absent.
package imagecache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/0xef53/unikcache/internal/flock"
	"github.com/0xef53/unikcache/unikernel"

	log "github.com/sirupsen/logrus"
)

const INDEX_FILE = ".index.json"

var indexLockTimeout = 10 * time.Second

type Entry struct {
	Filename  string    `json:"-"`
	ImageID   string    `json:"image_id"`
	UserID    string    `json:"user_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	Size      int64     `json:"size"`
	LastUsed  time.Time `json:"last_used"`
}

type Cache struct {
	dir      string
	locksDir string

	indexFile string
	indexLock string

	// Fetch waits this long for the keyed lock of a file
	LockTimeout time.Duration
}

func New(dir, locksDir string) *Cache {
	return &Cache{
		dir:         dir,
		locksDir:    locksDir,
		indexFile:   filepath.Join(dir, INDEX_FILE),
		indexLock:   filepath.Join(dir, INDEX_FILE+".lock"),
		LockTimeout: 10 * time.Minute,
	}
}

// Cache makes sure the file is present (fetching it with req.Fetch if not),
// marks it as recently used and records its owner in the index.
func (c *Cache) Cache(ctx context.Context, req *unikernel.CacheRequest) error {
	if len(req.Filename) == 0 || filepath.Base(req.Filename) != req.Filename {
		return fmt.Errorf("invalid cache file name: %q", req.Filename)
	}

	fname := filepath.Join(c.dir, req.Filename)

	if _, err := os.Stat(fname); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := c.fetch(ctx, req); err != nil {
			return err
		}
	}

	now := time.Now()

	if err := os.Chtimes(fname, now, now); err != nil {
		return err
	}

	return c.update(func(m map[string]*Entry) bool {
		m[req.Filename] = &Entry{
			ImageID:   req.ImageID,
			UserID:    req.UserID,
			ProjectID: req.ProjectID,
			Size:      req.Size,
			LastUsed:  now,
		}

		return true
	})
}

// fetch downloads the file under the same keyed lock that guards builds
// of this file.
func (c *Cache) fetch(ctx context.Context, req *unikernel.CacheRequest) error {
	if req.Fetch == nil {
		return fmt.Errorf("%s: %w", req.Filename, unikernel.ErrNoFallback)
	}

	lockfile := filepath.Join(c.locksDir, unikernel.LockName(req.Filename))

	lock, err := flock.Lock(ctx, lockfile, c.LockTimeout)
	if err != nil {
		return &unikernel.LockError{Name: lockfile, Err: err}
	}
	defer lock.Release()

	fname := filepath.Join(c.dir, req.Filename)

	// Someone could have fetched it while we were waiting
	if _, err := os.Stat(fname); err == nil {
		return nil
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}

	tmpfile, err := os.CreateTemp(c.dir, "."+req.Filename+".fetch-")
	if err != nil {
		return err
	}
	tmpname := tmpfile.Name()
	tmpfile.Close()

	log.WithField("filename", req.Filename).Infof("Fetching image %s", req.ImageID)

	if err := req.Fetch(ctx, tmpname); err != nil {
		os.Remove(tmpname)

		return fmt.Errorf("fetch %s: %w", req.ImageID, err)
	}

	// Same mode as the entries published by the converter
	if err := os.Chmod(tmpname, 0644); err != nil {
		os.Remove(tmpname)

		return err
	}

	if err := os.Rename(tmpname, fname); err != nil {
		os.Remove(tmpname)

		return err
	}

	return nil
}

// List returns the index entries sorted by file name.
func (c *Cache) List() ([]*Entry, error) {
	var entries []*Entry

	err := c.update(func(m map[string]*Entry) bool {
		for fname, e := range m {
			e.Filename = fname
			entries = append(entries, e)
		}

		return false
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Filename < entries[j].Filename
	})

	return entries, nil
}

// Forget removes the index entry. The file itself is left in place.
func (c *Cache) Forget(filename string) (bool, error) {
	var found bool

	err := c.update(func(m map[string]*Entry) bool {
		if _, found = m[filename]; found {
			delete(m, filename)
		}

		return found
	})

	return found, err
}

// update loads the index under its lock and saves it back
// if fn reports a change.
func (c *Cache) update(fn func(map[string]*Entry) bool) error {
	lock, err := flock.Lock(context.Background(), c.indexLock, indexLockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	m := make(map[string]*Entry)

	if b, err := os.ReadFile(c.indexFile); err == nil {
		if err := json.Unmarshal(b, &m); err != nil {
			return fmt.Errorf("corrupted index %s: %w", c.indexFile, err)
		}
	} else {
		if !os.IsNotExist(err) {
			return err
		}
	}

	if !fn(m) {
		return nil
	}

	return c.save(m)
}

func (c *Cache) save(m map[string]*Entry) error {
	b, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}

	tmpname := c.indexFile + ".tmp"

	if err := os.WriteFile(tmpname, b, 0644); err != nil {
		return err
	}

	return os.Rename(tmpname, c.indexFile)
}
