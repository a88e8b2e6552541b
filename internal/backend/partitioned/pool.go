package partitioned

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ConnectionPool manages read-only SQLite connections to downloaded partitions.
type ConnectionPool struct {
	mu sync.RWMutex

	// connections maps local partition paths to their entries
	connections map[string]*connectionEntry

	// maxTotalConnections is the maximum number of open partition databases
	maxTotalConnections int

	// idleTimeout is how long a connection can be idle before being closed
	idleTimeout time.Duration

	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

type connectionEntry struct {
	db       *sql.DB
	refCount int
	lastUsed time.Time
}

// PoolConfig holds configuration for the connection pool.
type PoolConfig struct {
	// MaxTotalConnections is the maximum open partition databases (default: 100)
	MaxTotalConnections int

	// IdleTimeout is how long a connection can be idle (default: 5 minutes)
	IdleTimeout time.Duration

	// CleanupInterval is how often idle connections are swept (default: 1 minute)
	CleanupInterval time.Duration
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxTotalConnections: 100,
		IdleTimeout:         5 * time.Minute,
		CleanupInterval:     time.Minute,
	}
}

// NewConnectionPool creates a pool and starts its idle sweeper. Close stops it.
func NewConnectionPool(config PoolConfig) *ConnectionPool {
	defaults := DefaultPoolConfig()
	if config.MaxTotalConnections <= 0 {
		config.MaxTotalConnections = defaults.MaxTotalConnections
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	pool := &ConnectionPool{
		connections:         make(map[string]*connectionEntry),
		maxTotalConnections: config.MaxTotalConnections,
		idleTimeout:         config.IdleTimeout,
		stop:                make(chan struct{}),
	}

	pool.wg.Add(1)
	go pool.cleanupLoop(config.CleanupInterval)

	return pool
}

// Get retrieves or opens a connection for the given partition file.
// The caller must call Release when done with the connection.
func (p *ConnectionPool) Get(ctx context.Context, partitionPath string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("pool: connection pool is closed")
	}

	if entry, ok := p.connections[partitionPath]; ok {
		entry.refCount++
		entry.lastUsed = time.Now()
		return entry.db, nil
	}

	if len(p.connections) >= p.maxTotalConnections {
		if !p.evictIdleConnection() {
			return nil, fmt.Errorf("pool: maximum connections reached (%d)", p.maxTotalConnections)
		}
	}

	db, err := openReadOnly(ctx, partitionPath, p.idleTimeout)
	if err != nil {
		return nil, err
	}

	p.connections[partitionPath] = &connectionEntry{
		db:       db,
		refCount: 1,
		lastUsed: time.Now(),
	}
	return db, nil
}

// Release decrements the reference count for a connection.
func (p *ConnectionPool) Release(partitionPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.connections[partitionPath]; ok {
		entry.refCount--
		entry.lastUsed = time.Now()
	}
}

// openReadOnly opens a partition file with the query-only pragma.
func openReadOnly(ctx context.Context, partitionPath string, maxLifetime time.Duration) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=true", partitionPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("pool: failed to open connection: %w", err)
	}

	// Partitions are immutable and small; one connection each is enough.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(maxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pool: failed to ping connection: %w", err)
	}
	return db, nil
}

// evictIdleConnection evicts the least recently used idle connection.
// Must be called with lock held. Returns true if a connection was evicted.
func (p *ConnectionPool) evictIdleConnection() bool {
	var oldestPath string
	var oldestTime time.Time

	for path, entry := range p.connections {
		if entry.refCount == 0 {
			if oldestPath == "" || entry.lastUsed.Before(oldestTime) {
				oldestPath = path
				oldestTime = entry.lastUsed
			}
		}
	}

	if oldestPath == "" {
		return false
	}
	p.connections[oldestPath].db.Close()
	delete(p.connections, oldestPath)
	return true
}

func (p *ConnectionPool) cleanupLoop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.cleanupIdleConnections()
			p.mu.Unlock()
		}
	}
}

// cleanupIdleConnections closes connections that have been idle too long.
// Must be called with lock held.
func (p *ConnectionPool) cleanupIdleConnections() {
	now := time.Now()
	for path, entry := range p.connections {
		if entry.refCount == 0 && now.Sub(entry.lastUsed) > p.idleTimeout {
			entry.db.Close()
			delete(p.connections, path)
		}
	}
}

// Evict closes the connection to a partition file that is leaving the
// download cache. A connection still in use is left to the idle sweeper.
func (p *ConnectionPool) Evict(partitionPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.connections[partitionPath]
	if !ok || entry.refCount > 0 {
		return
	}
	entry.db.Close()
	delete(p.connections, partitionPath)
}

// Close closes all connections and stops the idle sweeper.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)

	var lastErr error
	for path, entry := range p.connections {
		if err := entry.db.Close(); err != nil {
			lastErr = err
		}
		delete(p.connections, path)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return lastErr
}

// PoolStats describes the pool's connections.
type PoolStats struct {
	TotalConnections  int
	ActiveConnections int
	IdleConnections   int
}

// Stats returns current pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{TotalConnections: len(p.connections)}
	for _, entry := range p.connections {
		if entry.refCount > 0 {
			stats.ActiveConnections++
		} else {
			stats.IdleConnections++
		}
	}
	return stats
}
