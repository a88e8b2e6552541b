package partitioned

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func createDB(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	return path
}

func TestConnectionPool_GetReleaseEvict(t *testing.T) {
	dir := t.TempDir()
	a := createDB(t, dir, "a.sqlite")
	pool := NewConnectionPool(PoolConfig{MaxTotalConnections: 1})
	defer pool.Close()
	ctx := context.Background()

	db, err := pool.Get(ctx, a)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := db.Exec("INSERT INTO t VALUES (1)"); err == nil {
		t.Error("partition connections must be read-only")
	}

	// Evicting a connection in use is deferred.
	pool.Evict(a)
	if stats := pool.Stats(); stats.ActiveConnections != 1 {
		t.Errorf("expected 1 active connection, got %+v", stats)
	}

	pool.Release(a)
	pool.Evict(a)
	if stats := pool.Stats(); stats.TotalConnections != 0 {
		t.Errorf("expected no connections, got %+v", stats)
	}
}

func TestConnectionPool_Limit(t *testing.T) {
	dir := t.TempDir()
	a := createDB(t, dir, "a.sqlite")
	b := createDB(t, dir, "b.sqlite")
	pool := NewConnectionPool(PoolConfig{MaxTotalConnections: 1})
	defer pool.Close()
	ctx := context.Background()

	if _, err := pool.Get(ctx, a); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := pool.Get(ctx, b); err == nil {
		t.Fatal("expected limit error while a is in use")
	}

	pool.Release(a)
	if _, err := pool.Get(ctx, b); err != nil {
		t.Fatalf("idle connection should be evicted to make room: %v", err)
	}
	if stats := pool.Stats(); stats.TotalConnections != 1 || stats.ActiveConnections != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestConnectionPool_IdleSweep(t *testing.T) {
	a := createDB(t, t.TempDir(), "a.sqlite")
	pool := NewConnectionPool(PoolConfig{IdleTimeout: 10 * time.Millisecond, CleanupInterval: 10 * time.Millisecond})
	defer pool.Close()

	if _, err := pool.Get(context.Background(), a); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	pool.Release(a)

	deadline := time.Now().Add(2 * time.Second)
	for pool.Stats().TotalConnections != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle connection was not swept")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnectionPool_Closed(t *testing.T) {
	a := createDB(t, t.TempDir(), "a.sqlite")
	pool := NewConnectionPool(PoolConfig{})
	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := pool.Get(context.Background(), a); err == nil {
		t.Error("expected error from a closed pool")
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
}
