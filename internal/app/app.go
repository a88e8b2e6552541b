// Package app wires configuration, storage, the manifest, the query backend
// and the EventStore together, and runs the gRPC query server.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	grpcapi "github.com/arkilian/eventstore/internal/api/grpc"
	"github.com/arkilian/eventstore/internal/backend"
	"github.com/arkilian/eventstore/internal/backend/partitioned"
	"github.com/arkilian/eventstore/internal/backend/remote"
	"github.com/arkilian/eventstore/internal/config"
	"github.com/arkilian/eventstore/internal/eventstore"
	"github.com/arkilian/eventstore/internal/loader"
	"github.com/arkilian/eventstore/internal/manifest"
	"github.com/arkilian/eventstore/internal/observability"
	"github.com/arkilian/eventstore/internal/server"
	"github.com/arkilian/eventstore/internal/storage"
	"google.golang.org/grpc"
)

// statsWindow is how long filter usage is remembered.
const statsWindow = time.Hour

// App manages the event store's shared resources and server lifecycle.
type App struct {
	cfg *config.Config

	// Shared resources, set by Open
	storage  storage.ObjectStorage
	catalog  *manifest.SQLiteCatalog
	backend  backend.Backend
	store    *eventstore.EventStore
	stats    *observability.QueryStats
	shutdown *server.ShutdownManager

	grpcServer   *grpc.Server
	grpcListener net.Listener

	mu      sync.Mutex
	opened  bool
	serving bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{
		cfg:      cfg,
		stats:    observability.NewQueryStats(statsWindow),
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig()),
	}, nil
}

// Open initializes storage, the manifest and the configured backend.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}

	if err := a.initBackend(ctx); err != nil {
		a.cleanup()
		return err
	}

	a.store = eventstore.New(a.backend, eventstore.Options{
		DefaultLimit:       a.cfg.Query.DefaultLimit,
		MaxLimit:           a.cfg.Query.MaxLimit,
		Timeout:            a.cfg.Query.Timeout,
		SlowQueryThreshold: a.cfg.Query.SlowQueryThreshold,
		Stats:              a.stats,
	})
	a.opened = true
	return nil
}

func (a *App) initBackend(ctx context.Context) error {
	if a.cfg.Backend.Type == config.BackendRemote {
		b, err := remote.Dial(remote.Config{
			Addr:        a.cfg.Backend.Addr,
			CallTimeout: a.cfg.Backend.CallTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize remote backend: %w", err)
		}
		a.backend = b
		log.Printf("Remote backend initialized: addr=%s", a.cfg.Backend.Addr)
		return nil
	}

	if err := a.initStorage(ctx); err != nil {
		return err
	}

	b, err := partitioned.New(a.catalog, a.storage, partitioned.Config{
		CacheDir:      a.cfg.Query.DownloadDir,
		Concurrency:   a.cfg.Query.Concurrency,
		MaxCacheBytes: int64(a.cfg.Query.MaxCacheMB) * 1024 * 1024,
		Pool: partitioned.PoolConfig{
			MaxTotalConnections: a.cfg.Query.PoolSize,
			IdleTimeout:         5 * time.Minute,
			CleanupInterval:     time.Minute,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize partitioned backend: %w", err)
	}
	a.backend = b
	log.Printf("Partitioned backend initialized: concurrency=%d, pool_size=%d, cache=%dMB",
		a.cfg.Query.Concurrency, a.cfg.Query.PoolSize, a.cfg.Query.MaxCacheMB)
	return nil
}

// initStorage initializes object storage and the manifest catalog.
func (a *App) initStorage(ctx context.Context) error {
	if a.catalog != nil {
		return nil
	}

	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       a.cfg.Storage.S3.Region,
			Endpoint:     a.cfg.Storage.S3.Endpoint,
			UsePathStyle: a.cfg.Storage.S3.UsePathStyle,
			MaxAttempts:  a.cfg.Storage.S3.MaxAttempts,
		})
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Storage initialized: type=%s", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == "s3" {
		log.Printf("S3 Config: Bucket=%s, Region=%s, Endpoint=%s",
			a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
	}

	a.catalog, err = manifest.NewCatalog(a.cfg.ManifestPath())
	if err != nil {
		return fmt.Errorf("failed to initialize manifest catalog: %w", err)
	}
	log.Printf("Manifest catalog initialized: %s", a.cfg.ManifestPath())
	return nil
}

// EventStore returns the store. Open must have succeeded.
func (a *App) EventStore() *eventstore.EventStore {
	return a.store
}

// Stats returns the query statistics tracker.
func (a *App) Stats() *observability.QueryStats {
	return a.stats
}

// Loader returns a loader writing partitions into the configured storage.
func (a *App) Loader(ctx context.Context) (*loader.Loader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	return loader.New(a.catalog, a.storage, a.cfg.WorkDir()), nil
}

// Reconcile compares the manifest with storage. When register is set,
// orphaned partitions are registered from their sidecars.
func (a *App) Reconcile(ctx context.Context, register bool) (*manifest.ReconciliationReport, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.initStorage(ctx); err != nil {
		return nil, 0, err
	}

	report, err := manifest.Reconcile(ctx, a.catalog, a.storage, "partitions/")
	if err != nil {
		return nil, 0, err
	}
	if !register || len(report.OrphanedObjects) == 0 {
		return report, 0, nil
	}
	n, err := manifest.RegisterOrphans(ctx, a.catalog, a.storage, report, a.cfg.WorkDir())
	return report, n, err
}

// Serve starts the gRPC query server in front of the backend.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.serving {
		return fmt.Errorf("app is already serving")
	}

	var err error
	a.grpcListener, err = net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(server.UnaryInterceptor(a.shutdown)))
	grpcapi.RegisterQueryServiceServer(a.grpcServer, grpcapi.NewQueryServer(a.backend))

	a.shutdown.RegisterCloser(server.CloserFunc(a.Close))
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.serving = true

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("gRPC query server listening on %s", a.grpcListener.Addr())
		if err := a.grpcServer.Serve(a.grpcListener); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pruneStats(ctx)
	}()

	return nil
}

// pruneStats expires old filter statistics until ctx ends.
func (a *App) pruneStats(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.stats.Prune()
		}
	}
}

// Addr returns the address the gRPC server listens on, once serving.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grpcListener == nil {
		return nil
	}
	return a.grpcListener.Addr()
}

// WaitForShutdown blocks until a shutdown signal is received or ctx ends,
// then drains in-flight calls and releases resources.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

// Close stops the server, if running, and releases all resources.
func (a *App) Close() error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.grpcServer != nil {
		a.grpcServer.Stop()
	}
	a.mu.Unlock()

	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.serving {
		totals := a.stats.Totals()
		log.Printf("Query totals: queries=%d failures=%d slow=%d rows=%d",
			totals.Queries, totals.Failures, totals.SlowQueries, totals.RowsReturned)
		a.serving = false
	}
	err := a.cleanup()
	a.opened = false
	return err
}

// cleanup releases all shared resources.
func (a *App) cleanup() error {
	var firstErr error
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			firstErr = err
		}
		a.backend = nil
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.catalog = nil
	}
	return firstErr
}
