package appconf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/0xef53/unikcache/unikernel"

	"gopkg.in/gcfg.v1"
)

type CommonParams struct {
	InstancesPath    string `gcfg:"instances-path"`
	ImageCacheSubdir string `gcfg:"image-cache-subdir"`
	CatalogFile      string `gcfg:"catalog-file"`

	CacheDir string `gcfg:"-"`
	LocksDir string `gcfg:"-"`
}

type UnikernelParams struct {
	Branch   string `gcfg:"branch"`
	RepoBase string `gcfg:"repo-base"`

	// Percent of one CPU core shared by all builds
	CompileCoreLimit int `gcfg:"compile-core-limit"`
	// Megabytes
	CompileMemLimit int `gcfg:"compile-mem-limit"`

	CompileCgroup   string `gcfg:"compile-cgroup"`
	Envelope        string `gcfg:"envelope"`
	AllowUnconfined bool   `gcfg:"allow-unconfined"`

	BuilderBinary  string `gcfg:"builder-binary"`
	BuilderRootEnv string `gcfg:"builder-root-env"`
	BuilderFormat  string `gcfg:"builder-format"`
	QemuImgBinary  string `gcfg:"qemu-img-binary"`

	// Seconds
	LockTimeout  int `gcfg:"lock-timeout"`
	BuildTimeout int `gcfg:"build-timeout"`

	Strict bool `gcfg:"strict"`
}

func (p *UnikernelParams) LockTimeoutDuration() time.Duration {
	return time.Duration(p.LockTimeout) * time.Second
}

func (p *UnikernelParams) BuildTimeoutDuration() time.Duration {
	return time.Duration(p.BuildTimeout) * time.Second
}

// UnikcacheConfig represents the unikcache configuration
type UnikcacheConfig struct {
	Common    CommonParams
	Unikernel UnikernelParams
}

func defaultConfig() *UnikcacheConfig {
	return &UnikcacheConfig{
		Common: CommonParams{
			InstancesPath:    unikernel.DEFAULT_INSTANCES_PATH,
			ImageCacheSubdir: unikernel.DEFAULT_CACHE_SUBDIR,
			CatalogFile:      filepath.Join(unikernel.CONFDIR, "catalog.yaml"),
		},
		Unikernel: UnikernelParams{
			Branch:           unikernel.DEFAULT_BRANCH,
			RepoBase:         unikernel.DEFAULT_REPO_BASE,
			CompileCoreLimit: 50,
			CompileMemLimit:  20,
			CompileCgroup:    "unikcache-build",
			Envelope:         "cgroupfs",
			BuilderBinary:    "capstan",
			BuilderRootEnv:   "CAPSTAN_ROOT",
			BuilderFormat:    "qemu",
			QemuImgBinary:    "qemu-img",
			LockTimeout:      600,
			BuildTimeout:     1800,
		},
	}
}

// NewConfig reads and parses the configuration file and returns
// a new instance of UnikcacheConfig on success.
// The defaults are used if the file does not exist.
func NewConfig(p string) (*UnikcacheConfig, error) {
	cfg := defaultConfig()

	switch _, err := os.Stat(p); {
	case err == nil:
		if err := gcfg.ReadFileInto(cfg, p); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %s", err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Common.CacheDir = filepath.Join(cfg.Common.InstancesPath, cfg.Common.ImageCacheSubdir)
	cfg.Common.LocksDir = filepath.Join(cfg.Common.InstancesPath, unikernel.LOCKS_SUBDIR)

	return cfg, nil
}

func (c *UnikcacheConfig) validate() error {
	if !filepath.IsAbs(c.Common.InstancesPath) {
		return fmt.Errorf("instances-path must be an absolute path: %s", c.Common.InstancesPath)
	}
	if !filepath.IsAbs(c.Unikernel.RepoBase) {
		return fmt.Errorf("repo-base must be an absolute path: %s", c.Unikernel.RepoBase)
	}
	if len(c.Unikernel.Branch) == 0 {
		return fmt.Errorf("empty branch name")
	}
	if c.Unikernel.CompileCoreLimit < 0 {
		return fmt.Errorf("compile-core-limit must be non-negative: %d", c.Unikernel.CompileCoreLimit)
	}
	if c.Unikernel.CompileMemLimit < 0 {
		return fmt.Errorf("compile-mem-limit must be non-negative: %d", c.Unikernel.CompileMemLimit)
	}
	if c.Unikernel.LockTimeout < 0 || c.Unikernel.BuildTimeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}

	return nil
}
