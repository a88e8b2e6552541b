// Package memory is an in-process Backend over a slice of rows. It evaluates
// queries with the shared query helpers and serves as the reference for the
// other backends.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
)

// Backend holds rows in memory.
type Backend struct {
	mu   sync.RWMutex
	rows []query.Row
}

// New creates an empty memory backend.
func New() *Backend {
	return &Backend{}
}

// Insert appends events. Inserting an existing (project_id, event_id) pair
// adds a second row; the store is append-only and does not deduplicate.
func (b *Backend) Insert(events ...types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		b.rows = append(b.rows, EventRow(e))
	}
}

// InsertRows appends raw rows, including columns outside the logical schema.
func (b *Backend) InsertRows(rows ...query.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, rows...)
}

// Execute filters, orders and windows the stored rows.
func (b *Backend) Execute(ctx context.Context, q *query.Query) (*query.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	b.mu.RLock()
	var matched []query.Row
	for _, r := range b.rows {
		if query.Match(q, r) {
			matched = append(matched, project(r, q))
		}
	}
	scanned := int64(len(b.rows))
	b.mu.RUnlock()

	query.SortRows(matched, q.OrderBy)
	rows := query.Window(matched, q.Offset, q.Limit)
	if rows == nil {
		rows = []query.Row{}
	}

	return &query.Result{
		Columns: q.Columns,
		Rows:    rows,
		Stats: query.ExecutionStats{
			RowsScanned:     scanned,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// project copies the selected columns plus any columns outside the logical
// schema, which always pass through.
func project(r query.Row, q *query.Query) query.Row {
	out := make(query.Row, len(r))
	for k, v := range r {
		if known(k) && !q.HasColumn(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func known(column string) bool {
	for _, c := range query.AllColumns {
		if c == column {
			return true
		}
	}
	return false
}

// EventRow converts an event into the canonical row representation.
func EventRow(e types.Event) query.Row {
	tags := make(map[string]string, len(e.Tags))
	for k, v := range e.Tags {
		tags[k] = v
	}
	payload := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		payload[k] = v
	}
	r := query.Row{
		types.ColumnEventID:   types.NormalizeEventID(e.EventID),
		types.ColumnProjectID: e.ProjectID,
		types.ColumnGroupID:   e.GroupID,
		types.ColumnTimestamp: e.Timestamp.Unix(),
		types.ColumnPlatform:  e.Platform,
		types.ColumnType:      e.Type,
		types.ColumnTags:      tags,
		types.ColumnPayload:   payload,
	}
	for k, v := range e.Extra {
		if _, ok := r[k]; !ok {
			r[k] = v
		}
	}
	return r
}
