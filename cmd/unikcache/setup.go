package main

import (
	"context"
	"fmt"

	"github.com/0xef53/unikcache/internal/appconf"
	"github.com/0xef53/unikcache/internal/builder"
	"github.com/0xef53/unikcache/internal/catalog"
	"github.com/0xef53/unikcache/internal/converter"
	"github.com/0xef53/unikcache/internal/envelope"
	"github.com/0xef53/unikcache/internal/imagecache"
	"github.com/0xef53/unikcache/internal/pipeline"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
)

type components struct {
	AppConf *appconf.UnikcacheConfig

	Envelope     envelope.Envelope
	Catalog      *catalog.Catalog
	Cache        *imagecache.Cache
	Orchestrator *pipeline.Orchestrator
}

func (x *components) Close() {
	if x.Envelope != nil {
		x.Envelope.Close()
	}
}

func loadConfig(c *cli.Context) (*appconf.UnikcacheConfig, error) {
	return appconf.NewConfig(c.String("config"))
}

func newImageCache(appConf *appconf.UnikcacheConfig) *imagecache.Cache {
	cache := imagecache.New(appConf.Common.CacheDir, appConf.Common.LocksDir)

	cache.LockTimeout = appConf.Unikernel.LockTimeoutDuration()

	return cache
}

func newEnvelope(ctx context.Context, appConf *appconf.UnikcacheConfig) (envelope.Envelope, error) {
	opts := envelope.Options{
		Kind: appConf.Unikernel.Envelope,
		Name: appConf.Unikernel.CompileCgroup,
		Limits: envelope.Limits{
			CPUQuota:    int64(appConf.Unikernel.CompileCoreLimit),
			MemoryLimit: int64(appConf.Unikernel.CompileMemLimit) << 20,
		},
		AllowUnconfined: appConf.Unikernel.AllowUnconfined,
	}

	env, err := envelope.New(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("refusing to run builds: %w", err)
	}

	return env, nil
}

// setup creates the whole pipeline. The resource envelope is configured
// here once and shared by all builds of the process.
func setup(ctx context.Context, c *cli.Context) (*components, error) {
	appConf, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	x := components{
		AppConf: appConf,
		Cache:   newImageCache(appConf),
	}

	success := false

	defer func() {
		if !success {
			x.Close()
		}
	}()

	x.Catalog, err = catalog.Load(appConf.Common.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("cannot load image catalog: %w", err)
	}

	x.Envelope, err = newEnvelope(ctx, appConf)
	if err != nil {
		return nil, err
	}

	log.Debugf("Builds are confined to %s", x.Envelope)

	b, err := builder.New(
		builder.Config{
			Binary:  appConf.Unikernel.BuilderBinary,
			RootEnv: appConf.Unikernel.BuilderRootEnv,
			RootDir: appConf.Common.CacheDir,
			Format:  appConf.Unikernel.BuilderFormat,
			Timeout: appConf.Unikernel.BuildTimeoutDuration(),
		},
		x.Envelope,
	)
	if err != nil {
		return nil, err
	}

	conv, err := converter.New(appConf.Unikernel.QemuImgBinary)
	if err != nil {
		return nil, err
	}

	policy := pipeline.DefaultPolicy
	if appConf.Unikernel.Strict {
		policy = pipeline.StrictPolicy
	}

	x.Orchestrator, err = pipeline.New(
		pipeline.Config{
			RepoBase:    appConf.Unikernel.RepoBase,
			CacheDir:    appConf.Common.CacheDir,
			LocksDir:    appConf.Common.LocksDir,
			Branch:      appConf.Unikernel.Branch,
			LockTimeout: appConf.Unikernel.LockTimeoutDuration(),
			Policy:      policy,
		},
		pipeline.Deps{
			Mirrors:   pipeline.GitMirrors,
			Builder:   b,
			Converter: conv,
			Catalog:   x.Catalog,
			Cache:     x.Cache,
		},
	)
	if err != nil {
		return nil, err
	}

	success = true

	return &x, nil
}
