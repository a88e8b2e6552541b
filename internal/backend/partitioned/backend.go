// Package partitioned executes event queries over SQLite micro-partitions
// held in object storage. The manifest prunes partitions by project, time
// range and bloom filters; surviving partitions are downloaded into a local
// LRU cache, scanned in parallel and k-way merged.
package partitioned

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	esErrors "github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/internal/manifest"
	"github.com/arkilian/eventstore/internal/partition"
	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the partitioned backend.
type Config struct {
	// CacheDir is where downloaded partitions are kept
	CacheDir string

	// Concurrency bounds parallel downloads and partition scans (default: 8)
	Concurrency int

	// MaxCacheBytes bounds the download cache (default: 1GB)
	MaxCacheBytes int64

	// Pool configures the partition connection pool
	Pool PoolConfig
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		CacheDir:      filepath.Join(os.TempDir(), "eventstore-partitions"),
		Concurrency:   8,
		MaxCacheBytes: storage.DefaultCacheBytes,
		Pool:          DefaultPoolConfig(),
	}
}

// Backend implements backend.Backend over partitioned storage.
type Backend struct {
	pruner      *manifest.Pruner
	downloader  *storage.BatchDownloader
	cache       *storage.DownloadCache
	pool        *ConnectionPool
	concurrency int
	closed      atomic.Bool
}

// New creates a partitioned backend reading partitions listed in catalog from store.
func New(catalog manifest.Catalog, store storage.ObjectStorage, cfg Config) (*Backend, error) {
	defaults := DefaultConfig()
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaults.CacheDir
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.MaxCacheBytes <= 0 {
		cfg.MaxCacheBytes = defaults.MaxCacheBytes
	}

	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("partitioned: failed to create cache directory: %w", err)
	}

	pool := NewConnectionPool(cfg.Pool)
	cache := storage.NewDownloadCache(cfg.MaxCacheBytes)
	cache.OnEvict(pool.Evict)

	return &Backend{
		pruner:      manifest.NewPruner(catalog),
		downloader:  storage.NewBatchDownloader(store, cache, cfg.Concurrency, cfg.CacheDir),
		cache:       cache,
		pool:        pool,
		concurrency: cfg.Concurrency,
	}, nil
}

// Execute prunes, downloads and scans partitions, then merges their rows
// under the query ordering. Any partition failure fails the query.
func (b *Backend) Execute(ctx context.Context, q *query.Query) (*query.Result, error) {
	if b.closed.Load() {
		return nil, esErrors.NewBackendError(esErrors.CodeBackendUnavailable, "partitioned backend is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := query.Validate(q); err != nil {
		return nil, err
	}
	startTime := time.Now()

	pruned, err := b.pruner.Prune(ctx, filterFor(q))
	if err != nil {
		return nil, esErrors.NewBackendError(esErrors.CodeBackendUnavailable, "manifest lookup failed", err)
	}

	result := &query.Result{
		Columns: q.Columns,
		Rows:    []query.Row{},
		Stats: query.ExecutionStats{
			PartitionsScanned: len(pruned.Partitions),
			PartitionsPruned:  pruned.Pruned(),
		},
	}
	if len(pruned.Partitions) == 0 {
		result.Stats.ExecutionTimeMs = time.Since(startTime).Milliseconds()
		return result, nil
	}

	objectPaths := make([]string, len(pruned.Partitions))
	for i, p := range pruned.Partitions {
		objectPaths[i] = p.ObjectPath
	}
	downloaded, err := b.downloader.Download(ctx, objectPaths)
	if err != nil {
		return nil, classifyDownloadError(err)
	}
	// The files stay on disk until every scan is done.
	defer downloaded.Release()

	streams := make([][]query.Row, len(pruned.Partitions))
	var rowsScanned atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, part := range pruned.Partitions {
		localPath := downloaded.LocalPaths[part.ObjectPath]
		g.Go(func() error {
			rows, err := b.scanPartition(gctx, localPath, part.PartitionID, q)
			if err != nil {
				return err
			}
			streams[i] = rows
			rowsScanned.Add(int64(len(rows)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("partitioned: query %s failed: %v", query.Fingerprint(q), err)
		return nil, esErrors.AsBackendError("partition scan failed", err)
	}

	merged := query.Merge(streams, q.OrderBy, q.Offset+q.Limit)
	if rows := query.Window(merged, q.Offset, q.Limit); len(rows) > 0 {
		result.Rows = rows
	}
	result.Stats.RowsScanned = rowsScanned.Load()
	result.Stats.ExecutionTimeMs = time.Since(startTime).Milliseconds()
	return result, nil
}

func (b *Backend) scanPartition(ctx context.Context, localPath, partitionID string, q *query.Query) ([]query.Row, error) {
	db, err := b.pool.Get(ctx, localPath)
	if err != nil {
		return nil, fmt.Errorf("partitioned: partition %s: %w", partitionID, err)
	}
	defer b.pool.Release(localPath)

	tableColumns, err := partitionColumns(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("partitioned: partition %s: %w", partitionID, err)
	}
	sqlQuery, args, err := compile(q, tableColumns)
	if err != nil {
		return nil, esErrors.NewBackendError(esErrors.CodeQueryFailed, "failed to compile partition query", err)
	}

	rows, err := db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("partitioned: partition %s: query failed: %w", partitionID, err)
	}
	defer rows.Close()

	return scanRows(rows, partitionID)
}

// partitionColumns lists the columns of a partition's event table.
func partitionColumns(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+partition.TableName+" LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("failed to read table columns: %w", err)
	}
	defer rows.Close()
	return rows.Columns()
}

// classifyDownloadError maps storage failures onto backend errors.
func classifyDownloadError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return esErrors.AsBackendError("partition download failed", err)
	case errors.Is(err, storage.ErrObjectNotFound):
		// The manifest lists a partition storage no longer has.
		return esErrors.AsBackendError("partition download failed",
			esErrors.NewStorageError(esErrors.CodeObjectNotFound, "partition object missing", err))
	default:
		return esErrors.AsBackendError("partition download failed",
			esErrors.NewStorageError(esErrors.CodeDownloadFailed, "partition download failed", err))
	}
}

// CacheStats reports the download cache's entry count and size in bytes.
func (b *Backend) CacheStats() (entries int, bytes int64) {
	return b.cache.Len(), b.cache.Size()
}

// Close releases pooled connections. The download cache stays on disk.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.pool.Close()
}
