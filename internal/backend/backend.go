// Package backend defines the contract between EventStore and the analytical
// store that executes its queries.
package backend

import (
	"context"

	"github.com/arkilian/eventstore/internal/query"
)

// Backend executes canonical event queries.
//
// Implementations return rows already filtered, ordered by q.OrderBy and
// windowed by q.Offset and q.Limit. An empty result is a successful query.
// Any failure fails the whole query; partial results are never returned.
type Backend interface {
	Execute(ctx context.Context, q *query.Query) (*query.Result, error)
	Close() error
}
