// Package app wires the components (name mapper, cache, worker pool,
// FS frontend) into a running mount and owns its startup and shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ticpu/fuse-img2heic/internal/applog"
	"github.com/ticpu/fuse-img2heic/internal/cache"
	"github.com/ticpu/fuse-img2heic/internal/codec"
	"github.com/ticpu/fuse-img2heic/internal/config"
	"github.com/ticpu/fuse-img2heic/internal/fsfrontend"
	"github.com/ticpu/fuse-img2heic/internal/imageformat"
	"github.com/ticpu/fuse-img2heic/internal/metrics"
	"github.com/ticpu/fuse-img2heic/internal/mountctl"
	"github.com/ticpu/fuse-img2heic/internal/namemap"
	"github.com/ticpu/fuse-img2heic/internal/worker"
)

// heifEncBinary is the default external encoder executable name, looked
// up on PATH.
const heifEncBinary = "heif-enc"

// App owns every long-lived component of a mount and the FUSE server
// itself.
type App struct {
	cfg    *config.Config
	cache  *cache.Cache
	pool   *worker.Pool
	server *fuse.Server
	reg    *prometheus.Registry

	evictCancel context.CancelFunc
	metricsStop context.CancelFunc
}

// New builds every component from cfg but does not mount yet. Metrics
// are registered against a private registry and only ever served over
// HTTP when cfg.Logging.MetricsAddr is set; an unset address still lets
// the cache and worker pool record against it for parity, it just has
// no listener to read it back from.
func New(cfg *config.Config) (*App, error) {
	params, err := cfg.EncoderParams()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	c := cache.New(cfg.Cache.CacheDir, cfg.Cache.EnableEncryption)
	c.Metrics = m

	conv := codec.NewExecConverter(heifEncBinary)
	pool := worker.New(c, conv)
	pool.Metrics = m

	detector, err := imageformat.NewDetector(cfg.FilenamePatterns)
	if err != nil {
		return nil, fmt.Errorf("app: build format detector: %w", err)
	}

	roots := make([]namemap.SourceRoot, 0, len(cfg.SourcePaths))
	for _, sp := range cfg.SourcePaths {
		roots = append(roots, namemap.SourceRoot{
			HostPath:  sp.Path,
			MountName: sp.MountName,
			Recursive: sp.Recursive,
		})
	}
	mapper := namemap.New(roots, detector)

	frontend := fsfrontend.New(mapper, c, pool, cfg.MountPoint, fsfrontend.Options{
		CacheTimeout:  time.Duration(cfg.Fuse.CacheTimeout) * time.Second,
		PrefetchCount: cfg.Fuse.PrefetchCount,
		Params:        params,
	})

	server, err := fuse.NewServer(frontend, cfg.MountPoint, &fuse.MountOptions{
		FsName:        "fuse-img2heic",
		Name:          "fuse-img2heic",
		AllowOther:    true,
		DisableXAttrs: true,
		Options:       []string{"ro", "default_permissions"},
	})
	if err != nil {
		return nil, fmt.Errorf("app: mount %s: %w", cfg.MountPoint, err)
	}

	return &App{cfg: cfg, cache: c, pool: pool, server: server, reg: reg}, nil
}

// Run serves the mount until ctx is cancelled, then unmounts and drains
// the worker pool.
func (a *App) Run(ctx context.Context) error {
	evictCtx, cancel := context.WithCancel(ctx)
	a.evictCancel = cancel
	go a.cache.RunEvictor(evictCtx, a.cfg.Cache.MaxSizeMB*1024*1024)

	if a.cfg.Logging.MetricsAddr != "" {
		metricsCtx, stop := context.WithCancel(ctx)
		a.metricsStop = stop
		go func() {
			if err := metrics.ListenAndServe(metricsCtx, a.cfg.Logging.MetricsAddr, a.reg); err != nil && metricsCtx.Err() == nil {
				applog.Errorf(a.cfg.Logging.MetricsAddr, "app: metrics listener failed: %v", err)
			}
		}()
		applog.Infof(a.cfg.Logging.MetricsAddr, "app: serving metrics")
	}

	go a.server.Serve()
	if err := a.server.WaitMount(); err != nil {
		cancel()
		return fmt.Errorf("app: wait mount: %w", err)
	}
	applog.Infof(a.cfg.MountPoint, "app: mounted and serving")

	<-ctx.Done()
	applog.Infof(a.cfg.MountPoint, "app: shutting down")
	a.Shutdown()
	return nil
}

// Shutdown unmounts and drains the worker pool. Run calls it itself once
// ctx is cancelled, so it is called directly only where Run was not used
// (e.g. in tests). It must be called at most once: a second call stops an
// already stopped pool and panics.
func (a *App) Shutdown() {
	if a.evictCancel != nil {
		a.evictCancel()
	}
	if a.metricsStop != nil {
		a.metricsStop()
	}
	mountctl.Unmount(a.cfg.MountPoint)
	a.pool.Stop()
}

// PrepareMount clears any stale mount left by a previous process and
// ensures the cache directory exists.
func PrepareMount(cfg *config.Config) error {
	if err := mountctl.EnsureClean(cfg.MountPoint); err != nil {
		return fmt.Errorf("app: clear stale mount: %w", err)
	}
	if err := os.MkdirAll(cfg.Cache.CacheDir, 0o755); err != nil {
		return fmt.Errorf("app: create cache dir: %w", err)
	}
	return nil
}
