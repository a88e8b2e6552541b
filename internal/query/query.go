// Package query defines the backend-neutral query model that EventStore
// dispatches to a backend, and the helpers every backend shares: canonical
// construction from a FilterSpec, fingerprinting, row ordering and merging.
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/eventstore/pkg/types"
)

// AllColumns is the logical event schema, in canonical order.
var AllColumns = []string{
	types.ColumnEventID,
	types.ColumnProjectID,
	types.ColumnGroupID,
	types.ColumnTimestamp,
	types.ColumnPlatform,
	types.ColumnType,
	types.ColumnTags,
	types.ColumnPayload,
}

// Predicate is a normalized free-form condition.
type Predicate struct {
	// Column is platform, type or tags
	Column string
	// Key is the tag key when Column is tags
	Key string
	Op  types.Operator
	// Values holds one value for = and !=, a sorted set for IN and NOT IN
	Values []string
}

// Field returns the field reference the predicate was built from.
func (p Predicate) Field() string {
	if p.Column == types.ColumnTags {
		return "tags[" + p.Key + "]"
	}
	return p.Column
}

// Keyset is the position of the last row of a page under the default
// ordering (timestamp DESC, event_id ASC).
type Keyset struct {
	Timestamp int64
	EventID   string
}

// Query is a validated, canonical event query. Two equal FilterSpecs always
// build equal Queries.
type Query struct {
	Columns    []string
	ProjectIDs []int64
	GroupIDs   []int64
	EventIDs   []string

	// Start is inclusive, End exclusive; zero means unbounded
	Start time.Time
	End   time.Time

	Predicates []Predicate
	OrderBy    []types.Ordering

	Limit  int
	Offset int
	// After restricts results to rows strictly after the keyset
	After *Keyset
}

// HasColumn reports whether the query selects column.
func (q *Query) HasColumn(column string) bool {
	for _, c := range q.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// String renders the query in a canonical SQL-like form. It is used for
// logging and fingerprinting, not for execution.
func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.Columns, ", "))
	b.WriteString(" FROM events WHERE project_id IN (")
	b.WriteString(joinInts(q.ProjectIDs))
	b.WriteString(")")
	if len(q.GroupIDs) > 0 {
		b.WriteString(" AND group_id IN (")
		b.WriteString(joinInts(q.GroupIDs))
		b.WriteString(")")
	}
	if len(q.EventIDs) > 0 {
		b.WriteString(" AND event_id IN (")
		b.WriteString(joinStrings(q.EventIDs))
		b.WriteString(")")
	}
	if !q.Start.IsZero() {
		fmt.Fprintf(&b, " AND timestamp >= %d", q.Start.Unix())
	}
	if !q.End.IsZero() {
		fmt.Fprintf(&b, " AND timestamp < %d", q.End.Unix())
	}
	for _, p := range q.Predicates {
		switch p.Op {
		case types.OpIn, types.OpNotIn:
			fmt.Fprintf(&b, " AND %s %s (%s)", p.Field(), p.Op, joinStrings(p.Values))
		default:
			fmt.Fprintf(&b, " AND %s %s %s", p.Field(), p.Op, joinStrings(p.Values))
		}
	}
	if q.After != nil {
		fmt.Fprintf(&b, " AFTER (%d, %q)", q.After.Timestamp, q.After.EventID)
	}
	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range q.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(o.Field)
			if o.Desc {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}
	fmt.Fprintf(&b, " LIMIT %d OFFSET %d", q.Limit, q.Offset)
	return b.String()
}

func joinInts(vs []int64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ", ")
}

func joinStrings(vs []string) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Quote(v)
	}
	return strings.Join(parts, ", ")
}

// Row is one result row keyed by column name. Backends produce the canonical
// value types: string for event_id, platform and type; int64 for project_id,
// group_id and timestamp (unix seconds); map[string]string for tags and
// map[string]any for payload. Columns outside the schema pass through as-is.
type Row map[string]any

// Result holds the rows a backend returned for a query.
type Result struct {
	Columns []string
	Rows    []Row
	Stats   ExecutionStats
}

// ExecutionStats contains backend execution metrics.
type ExecutionStats struct {
	PartitionsScanned int
	PartitionsPruned  int
	RowsScanned       int64
	ExecutionTimeMs   int64
}
