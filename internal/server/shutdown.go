// Package server manages the query server's lifecycle: in-flight call
// tracking, draining on shutdown and ordered release of resources.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// DrainTimeout bounds the wait for in-flight calls. Default: 15 seconds
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{DrainTimeout: 15 * time.Second}
}

// ShutdownManager stops admitting calls once shutdown begins, waits for the
// admitted ones to finish and then closes registered resources in reverse
// order of registration.
type ShutdownManager struct {
	drainTimeout time.Duration

	mu       sync.Mutex
	inFlight int64
	draining bool
	drained  chan struct{} // closed once draining with nothing in flight
	closers  []io.Closer

	once sync.Once
	err  error
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultShutdownConfig().DrainTimeout
	}
	return &ShutdownManager{
		drainTimeout: cfg.DrainTimeout,
		drained:      make(chan struct{}),
	}
}

// RegisterCloser adds a resource to close on shutdown. Closers run LIFO.
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// ListenForSignals blocks until SIGTERM, SIGINT or the end of ctx, then shuts
// down. It returns the shutdown error.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(context.Background(), "context cancelled")
	}
}

// Shutdown drains in-flight calls and closes every registered resource. Only
// the first call does any work; later calls return its result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		sm.mu.Lock()
		sm.draining = true
		n := sm.inFlight
		if n == 0 {
			close(sm.drained)
		}
		closers := sm.closers
		sm.mu.Unlock()

		log.Printf("server: shutting down (%s), %d calls in flight", reason, n)

		drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
		defer cancel()
		select {
		case <-sm.drained:
		case <-drainCtx.Done():
			sm.err = fmt.Errorf("server: %d calls still in flight after %s", sm.InFlightCount(), sm.drainTimeout)
		}

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && sm.err == nil {
				sm.err = fmt.Errorf("server: close failed: %w", err)
			}
		}
	})
	return sm.err
}

// TrackRequest admits a call. It returns false once shutdown has begun.
func (sm *ShutdownManager) TrackRequest() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.draining {
		return false
	}
	sm.inFlight++
	return true
}

// UntrackRequest marks an admitted call as finished.
func (sm *ShutdownManager) UntrackRequest() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.inFlight--
	if sm.draining && sm.inFlight == 0 {
		close(sm.drained)
	}
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.draining
}

// InFlightCount returns the number of admitted, unfinished calls.
func (sm *ShutdownManager) InFlightCount() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.inFlight
}

// UnaryInterceptor tracks in-flight gRPC calls and rejects new ones with
// Unavailable once shutdown has begun.
func UnaryInterceptor(sm *ShutdownManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !sm.TrackRequest() {
			return nil, status.Error(codes.Unavailable, "server is shutting down")
		}
		defer sm.UntrackRequest()
		return handler(ctx, req)
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
