package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// BatchDownloader fetches objects into a local cache directory in parallel.
// Concurrent requests for the same object share one download.
type BatchDownloader struct {
	storage     ObjectStorage
	cache       *DownloadCache
	concurrency int
	cacheDir    string
	flight      singleflight.Group
}

// BatchResult reports where each object landed. The files stay pinned in the
// cache until Release is called.
type BatchResult struct {
	LocalPaths map[string]string
	CacheHits  int
	Downloads  int

	cache  *DownloadCache
	pinned []string
}

// Release unpins the downloaded objects. It is safe to call more than once.
func (r *BatchResult) Release() {
	if r == nil || r.cache == nil {
		return
	}
	for _, objectPath := range r.pinned {
		r.cache.Unpin(objectPath)
	}
	r.pinned = nil
}

// NewBatchDownloader creates a downloader writing into cacheDir.
func NewBatchDownloader(storage ObjectStorage, cache *DownloadCache, concurrency int, cacheDir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &BatchDownloader{
		storage:     storage,
		cache:       cache,
		concurrency: concurrency,
		cacheDir:    cacheDir,
	}
}

// Download fetches every object and pins it in the cache; callers must
// Release the result once they are done with the files. The first failure
// cancels the remaining downloads and is returned; no partial result is
// reported.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string, len(objectPaths)),
		cache:      b.cache,
		pinned:     append([]string(nil), objectPaths...),
	}
	for _, objectPath := range objectPaths {
		b.cache.Pin(objectPath)
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, objectPath := range objectPaths {
		if local := b.cache.Get(objectPath); local != "" {
			result.LocalPaths[objectPath] = local
			result.CacheHits++
			continue
		}

		g.Go(func() error {
			local, err := b.fetch(gctx, objectPath)
			if err != nil {
				return err
			}
			mu.Lock()
			result.LocalPaths[objectPath] = local
			result.Downloads++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		result.Release()
		return nil, err
	}
	return result, nil
}

// fetch downloads to a temporary file and renames it into place so readers
// never observe a partially written partition.
func (b *BatchDownloader) fetch(ctx context.Context, objectPath string) (string, error) {
	v, err, _ := b.flight.Do(objectPath, func() (any, error) {
		if local := b.cache.Get(objectPath); local != "" {
			return local, nil
		}

		local := b.localPath(objectPath)
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		tmp := local + ".part"
		if err := b.storage.Download(ctx, objectPath, tmp); err != nil {
			os.Remove(tmp)
			return "", fmt.Errorf("storage: download %s: %w", objectPath, err)
		}
		if err := os.Rename(tmp, local); err != nil {
			os.Remove(tmp)
			return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		b.cache.Put(objectPath, local)
		return local, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// localPath escapes the whole object path into a single file name under
// cacheDir, so distinct objects never share a file.
func (b *BatchDownloader) localPath(objectPath string) string {
	return filepath.Join(b.cacheDir, url.PathEscape(path.Clean(objectPath)))
}
