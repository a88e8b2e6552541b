package types

import (
	"strings"
	"time"
)

// Column names of the logical event schema every backend serves.
const (
	ColumnEventID   = "event_id"
	ColumnProjectID = "project_id"
	ColumnGroupID   = "group_id"
	ColumnTimestamp = "timestamp"
	ColumnPlatform  = "platform"
	ColumnType      = "type"
	ColumnTags      = "tags"
	ColumnPayload   = "payload"
)

// Operator is a comparison operator for free-form conditions.
type Operator string

const (
	OpEq    Operator = "="
	OpNotEq Operator = "!="
	OpIn    Operator = "IN"
	OpNotIn Operator = "NOT IN"
)

// Condition is a free-form filter on a scalar column or a tag.
// Field is one of "platform", "type" or "tags[<key>]".
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	// Value is a string for = and !=, a []string for IN and NOT IN
	Value any `json:"value"`
}

// TagKey returns the tag key when the condition targets a tag.
func (c Condition) TagKey() (string, bool) {
	return ParseTagField(c.Field)
}

// ParseTagField extracts key from a "tags[key]" field reference.
func ParseTagField(field string) (string, bool) {
	if !strings.HasPrefix(field, "tags[") || !strings.HasSuffix(field, "]") {
		return "", false
	}
	key := field[len("tags[") : len(field)-1]
	if key == "" {
		return "", false
	}
	return key, true
}

// Ordering is one sort key.
type Ordering struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// DefaultOrdering is timestamp descending.
func DefaultOrdering() []Ordering {
	return []Ordering{{Field: ColumnTimestamp, Desc: true}}
}

// FilterSpec describes an event query.
// Keys are conjunctive; values within one key are disjunctive.
type FilterSpec struct {
	// ProjectIDs scopes the query. Required.
	ProjectIDs []int64 `json:"project_ids"`
	// GroupIDs restricts to the given groups
	GroupIDs []int64 `json:"group_ids,omitempty"`
	// EventIDs restricts to the given events
	EventIDs []string `json:"event_ids,omitempty"`

	// Start is the inclusive lower time bound; zero means unbounded
	Start time.Time `json:"start,omitempty"`
	// End is the exclusive upper time bound; zero means unbounded
	End time.Time `json:"end,omitempty"`

	Conditions []Condition `json:"conditions,omitempty"`

	// OrderBy defaults to timestamp descending
	OrderBy []Ordering `json:"order_by,omitempty"`

	// Limit defaults to the store's default limit and is capped at its maximum
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
	// Cursor continues a previous page; only valid with the default ordering
	Cursor string `json:"cursor,omitempty"`
}

// HasProjectScope reports whether at least one project is named.
func (f *FilterSpec) HasProjectScope() bool {
	return len(f.ProjectIDs) > 0
}
