package storage

import (
	"container/list"
	"os"
	"sync"
)

// DefaultCacheBytes bounds the download cache when no size is configured.
const DefaultCacheBytes = 1 << 30

// DownloadCache is an LRU index over downloaded partition files. When the
// total size exceeds the limit, the least recently used files are deleted.
// Pinned objects are never deleted; the limit is enforced again once their
// last pin is released.
type DownloadCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64

	items map[string]*list.Element
	order *list.List // front = most recently used
	pins  map[string]int

	// onEvict is called with the local path of every evicted file, under mu
	onEvict func(localPath string)
}

type cacheEntry struct {
	objectPath string
	localPath  string
	sizeBytes  int64
}

// NewDownloadCache creates a cache holding at most maxBytes of files.
func NewDownloadCache(maxBytes int64) *DownloadCache {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheBytes
	}
	return &DownloadCache{
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		pins:     make(map[string]int),
	}
}

// OnEvict registers a callback run for each evicted file.
func (c *DownloadCache) OnEvict(fn func(localPath string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns the local path of a cached object, or "" on a miss. A hit
// promotes the entry; an entry whose file vanished or changed size is dropped.
func (c *DownloadCache) Get(objectPath string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[objectPath]
	if !ok {
		return ""
	}
	entry := elem.Value.(*cacheEntry)
	info, err := os.Stat(entry.localPath)
	if err != nil || info.Size() != entry.sizeBytes {
		c.removeLocked(elem)
		return ""
	}
	c.order.MoveToFront(elem)
	return entry.localPath
}

// Put records a downloaded file and evicts unpinned entries until under the
// limit.
func (c *DownloadCache) Put(objectPath, localPath string) {
	info, err := os.Stat(localPath)
	if err != nil {
		return
	}
	size := info.Size()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[objectPath]; ok {
		entry := elem.Value.(*cacheEntry)
		c.curBytes += size - entry.sizeBytes
		entry.localPath = localPath
		entry.sizeBytes = size
		c.order.MoveToFront(elem)
	} else {
		elem := c.order.PushFront(&cacheEntry{objectPath: objectPath, localPath: localPath, sizeBytes: size})
		c.items[objectPath] = elem
		c.curBytes += size
	}

	c.evictLocked()
}

// Pin protects an object from eviction until a matching Unpin. The object
// does not need to be cached yet.
func (c *DownloadCache) Pin(objectPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[objectPath]++
}

// Unpin releases one pin and evicts anything the pin was holding over the limit.
func (c *DownloadCache) Unpin(objectPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch n := c.pins[objectPath]; {
	case n <= 0:
		return
	case n == 1:
		delete(c.pins, objectPath)
	default:
		c.pins[objectPath] = n - 1
	}
	c.evictLocked()
}

// evictLocked removes unpinned entries from the back until under the limit.
// The most recent entry is never evicted.
func (c *DownloadCache) evictLocked() {
	elem := c.order.Back()
	for c.curBytes > c.maxBytes && elem != nil && elem != c.order.Front() {
		prev := elem.Prev()
		if c.pins[elem.Value.(*cacheEntry).objectPath] == 0 {
			c.removeLocked(elem)
		}
		elem = prev
	}
}

func (c *DownloadCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.items, entry.objectPath)
	c.curBytes -= entry.sizeBytes
	if c.onEvict != nil {
		c.onEvict(entry.localPath)
	}
	os.Remove(entry.localPath)
}

// Size returns the total size of cached files.
func (c *DownloadCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Len returns the number of cached files.
func (c *DownloadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear evicts everything that is not pinned.
func (c *DownloadCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if c.pins[elem.Value.(*cacheEntry).objectPath] == 0 {
			c.removeLocked(elem)
		}
		elem = prev
	}
}
