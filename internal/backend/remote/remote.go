// Package remote is a Backend that forwards queries to a query server over
// gRPC.
package remote

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	grpcapi "github.com/arkilian/eventstore/internal/api/grpc"
	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/internal/query"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config holds configuration for the remote backend.
type Config struct {
	// Addr is the query server address (host:port)
	Addr string
	// CallTimeout bounds each Execute call when the context has no
	// deadline of its own (0 = none)
	CallTimeout time.Duration
}

// Backend implements backend.Backend over a gRPC connection.
type Backend struct {
	conn        *grpc.ClientConn
	ownsConn    bool
	callTimeout time.Duration
	closed      atomic.Bool
}

// Dial creates a remote backend connected to cfg.Addr. The connection is
// established lazily on the first call.
func Dial(cfg Config, opts ...grpc.DialOption) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("remote: address is required")
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("remote: failed to create client for %s: %w", cfg.Addr, err)
	}
	return &Backend{conn: conn, ownsConn: true, callTimeout: cfg.CallTimeout}, nil
}

// New wraps an existing connection. Close leaves the connection open.
func New(conn *grpc.ClientConn, callTimeout time.Duration) *Backend {
	return &Backend{conn: conn, callTimeout: callTimeout}
}

// Execute sends the query to the server and decodes its result.
func (b *Backend) Execute(ctx context.Context, q *query.Query) (*query.Result, error) {
	if b.closed.Load() {
		return nil, errors.NewBackendError(errors.CodeBackendUnavailable, "remote backend is closed", nil)
	}
	if _, ok := ctx.Deadline(); !ok && b.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	req, err := grpcapi.EncodeQuery(q)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode query", err)
	}

	ctx = metadata.AppendToOutgoingContext(ctx, grpcapi.RequestIDKey, uuid.New().String())
	resp := new(structpb.Struct)
	var trailer metadata.MD
	if err := b.conn.Invoke(ctx, grpcapi.ExecuteMethod, req, resp, grpc.Trailer(&trailer)); err != nil {
		return nil, grpcapi.FromStatus(err, trailer)
	}

	result, err := grpcapi.DecodeResult(resp)
	if err != nil {
		return nil, errors.NewBackendError(errors.CodeMalformedRow, "failed to decode query server response", err)
	}
	return result, nil
}

// Close closes the connection when the backend created it.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.ownsConn {
		return b.conn.Close()
	}
	return nil
}
