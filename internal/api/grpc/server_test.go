package grpc

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkilian/eventstore/internal/backend"
	"github.com/arkilian/eventstore/internal/backend/memory"
	esErrors "github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// failingBackend fails every query with err.
type failingBackend struct {
	err   error
	calls atomic.Int64
}

func (f *failingBackend) Execute(ctx context.Context, q *query.Query) (*query.Result, error) {
	f.calls.Add(1)
	return nil, f.err
}

func (f *failingBackend) Close() error { return nil }

// serve starts a query server for b on an in-memory listener and returns a
// client connection to it.
func serve(t *testing.T, b backend.Backend) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterQueryServiceServer(srv, NewQueryServer(b))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, q *query.Query) (*structpb.Struct, metadata.MD, error) {
	t.Helper()
	req, err := EncodeQuery(q)
	if err != nil {
		t.Fatalf("EncodeQuery failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp := new(structpb.Struct)
	var trailer metadata.MD
	err = conn.Invoke(ctx, ExecuteMethod, req, resp, grpc.Trailer(&trailer))
	return resp, trailer, err
}

func TestExecute_ServesBackendRows(t *testing.T) {
	mem := memory.New()
	base := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		mem.Insert(types.Event{
			EventID:   fmt.Sprintf("%032x", i),
			ProjectID: 1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Platform:  "python",
			Type:      "error",
		})
	}
	conn := serve(t, mem)

	q, err := query.Build(types.FilterSpec{ProjectIDs: []int64{1}, Limit: 2}, query.Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	resp, _, err := invoke(t, conn, q)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	res, err := DecodeResult(resp)
	if err != nil {
		t.Fatalf("DecodeResult failed: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}
	if res.Rows[0][types.ColumnEventID] != fmt.Sprintf("%032x", 4) {
		t.Errorf("expected newest event first, got %v", res.Rows[0][types.ColumnEventID])
	}
}

func TestExecute_InvalidDocument(t *testing.T) {
	conn := serve(t, memory.New())

	req, _ := structpb.NewStruct(map[string]any{"limit": float64(10)})
	var trailer metadata.MD
	err := conn.Invoke(context.Background(), ExecuteMethod, req, new(structpb.Struct), grpc.Trailer(&trailer))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	restored := FromStatus(err, trailer)
	if !esErrors.IsValidation(restored) {
		t.Errorf("expected validation error, got %v", restored)
	}
	if code := esErrors.GetCode(restored); code != esErrors.CodeMissingProjectScope {
		t.Errorf("expected %s, got %s", esErrors.CodeMissingProjectScope, code)
	}
}

func TestExecute_RejectsIdentifiersOutsideSchema(t *testing.T) {
	fb := &failingBackend{err: esErrors.NewBackendError(esErrors.CodeQueryFailed, "unexpected call", nil)}
	conn := serve(t, fb)

	docs := []map[string]any{
		{"columns": []any{"event_id", "(SELECT group_concat(name) FROM sqlite_master) AS leak"}},
		{"order_by": []any{map[string]any{"field": "timestamp DESC, (SELECT 1)"}}},
		{"predicates": []any{map[string]any{"column": "tags", "key": `a"') OR 1=1 --`, "op": "=", "values": []any{"x"}}}},
	}
	for _, extra := range docs {
		d := map[string]any{
			"project_ids": []any{"1"},
			"limit":       float64(10),
			"order_by":    []any{map[string]any{"field": "timestamp", "desc": true}},
		}
		for k, v := range extra {
			d[k] = v
		}
		req, err := structpb.NewStruct(d)
		if err != nil {
			t.Fatalf("NewStruct failed: %v", err)
		}
		err = conn.Invoke(context.Background(), ExecuteMethod, req, new(structpb.Struct))
		if status.Code(err) != codes.InvalidArgument {
			t.Errorf("%v: expected InvalidArgument, got %v", extra, err)
		}
	}
	if n := fb.calls.Load(); n != 0 {
		t.Errorf("backend reached %d times", n)
	}
}

func TestExecute_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
		wantErr  string
	}{
		{
			name:     "unavailable",
			err:      esErrors.NewBackendError(esErrors.CodeBackendUnavailable, "manifest down", nil),
			wantCode: codes.Unavailable,
			wantErr:  esErrors.CodeBackendUnavailable,
		},
		{
			name:     "timeout",
			err:      esErrors.NewBackendError(esErrors.CodeBackendTimeout, "too slow", context.DeadlineExceeded),
			wantCode: codes.DeadlineExceeded,
			wantErr:  esErrors.CodeBackendTimeout,
		},
		{
			name:     "malformed row",
			err:      esErrors.NewBackendError(esErrors.CodeMalformedRow, "bad payload", nil),
			wantCode: codes.Internal,
			wantErr:  esErrors.CodeMalformedRow,
		},
		{
			name:     "unclassified",
			err:      fmt.Errorf("disk on fire"),
			wantCode: codes.Internal,
			wantErr:  esErrors.CodeQueryFailed,
		},
	}

	q, err := query.Build(types.FilterSpec{ProjectIDs: []int64{1}}, query.Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := serve(t, &failingBackend{err: tt.err})
			_, trailer, err := invoke(t, conn, q)
			if status.Code(err) != tt.wantCode {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
			restored := FromStatus(err, trailer)
			if !esErrors.IsBackend(restored) {
				t.Fatalf("expected backend error, got %v", restored)
			}
			if got := esErrors.GetCode(restored); got != tt.wantErr {
				t.Errorf("expected code %s, got %s", tt.wantErr, got)
			}
		})
	}
}

func TestToStatus_ContextErrors(t *testing.T) {
	if got := status.Code(ToStatus(context.Canceled)); got != codes.Unavailable {
		t.Errorf("canceled: expected Unavailable, got %s", got)
	}
	if got := status.Code(ToStatus(context.DeadlineExceeded)); got != codes.DeadlineExceeded {
		t.Errorf("deadline: expected DeadlineExceeded, got %s", got)
	}
	if ToStatus(nil) != nil {
		t.Error("expected nil status for nil error")
	}
}
