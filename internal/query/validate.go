package query

import (
	"fmt"

	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/pkg/types"
)

// IsColumn reports whether column belongs to the logical event schema.
func IsColumn(column string) bool {
	for _, c := range AllColumns {
		if c == column {
			return true
		}
	}
	return false
}

// IsSortable reports whether rows can be ordered by column.
func IsSortable(column string) bool {
	return sortableColumns[column]
}

// ValidTagKey reports whether key may be used in a tag condition.
func ValidTagKey(key string) bool {
	return tagKeyPattern.MatchString(key)
}

// Validate checks a query that did not come from Build, such as one decoded
// off the wire, against the rules Build enforces. Every identifier a backend
// may embed in its own query language is checked here.
func Validate(q *Query) error {
	if q == nil {
		return errors.NewValidationError(errors.CodeInvalidFilter, "empty query")
	}
	if len(q.ProjectIDs) == 0 {
		return errors.NewValidationError(errors.CodeMissingProjectScope, "query must include at least one project_id")
	}
	for _, id := range q.ProjectIDs {
		if id <= 0 {
			return errors.NewValidationError(errors.CodeMissingProjectScope,
				fmt.Sprintf("invalid project id %d", id))
		}
	}
	for _, id := range q.EventIDs {
		if !types.ValidEventID(id) {
			return errors.NewValidationError(errors.CodeInvalidEventID,
				fmt.Sprintf("invalid event id %q", id))
		}
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.Start.After(q.End) {
		return errors.NewValidationError(errors.CodeInvalidTimeRange, "start must not be after end")
	}

	if len(q.Columns) == 0 {
		return errors.NewValidationError(errors.CodeInvalidFilter, "query selects no columns")
	}
	for _, c := range q.Columns {
		if !IsColumn(c) {
			return errors.NewValidationError(errors.CodeInvalidFilter,
				fmt.Sprintf("unknown column %q", c))
		}
	}

	for _, p := range q.Predicates {
		if err := validatePredicate(p); err != nil {
			return err
		}
	}

	if len(q.OrderBy) == 0 {
		return errors.NewValidationError(errors.CodeInvalidFilter, "query has no ordering")
	}
	for _, o := range q.OrderBy {
		if !IsSortable(o.Field) {
			return errors.NewValidationError(errors.CodeInvalidFilter,
				fmt.Sprintf("cannot order by %q", o.Field))
		}
	}

	if q.Limit <= 0 {
		return errors.NewValidationError(errors.CodeInvalidFilter, "limit must be positive")
	}
	if q.Offset < 0 {
		return errors.NewValidationError(errors.CodeInvalidFilter, "offset must not be negative")
	}
	if q.After != nil {
		if q.Offset > 0 {
			return errors.NewValidationError(errors.CodeInvalidCursor, "cursor and offset are mutually exclusive")
		}
		if !IsDefaultOrdering(q.OrderBy) {
			return errors.NewValidationError(errors.CodeInvalidCursor, "cursor requires the default ordering")
		}
		if !types.ValidEventID(q.After.EventID) {
			return errors.NewValidationError(errors.CodeInvalidCursor, "cursor event id is malformed")
		}
	}
	return nil
}

func validatePredicate(p Predicate) error {
	switch p.Column {
	case types.ColumnPlatform, types.ColumnType:
		if p.Key != "" {
			return errors.NewValidationError(errors.CodeInvalidFilter,
				fmt.Sprintf("condition on %q takes no key", p.Column))
		}
	case types.ColumnTags:
		if !ValidTagKey(p.Key) {
			return errors.NewValidationError(errors.CodeInvalidFilter,
				fmt.Sprintf("invalid tag key %q", p.Key))
		}
	default:
		return errors.NewValidationError(errors.CodeInvalidFilter,
			fmt.Sprintf("unsupported condition column %q", p.Column))
	}

	switch p.Op {
	case types.OpEq, types.OpNotEq:
		if len(p.Values) != 1 {
			return errors.NewValidationError(errors.CodeInvalidFilter,
				fmt.Sprintf("operator %s on %q takes exactly one value", p.Op, p.Field()))
		}
	case types.OpIn, types.OpNotIn:
	default:
		return errors.NewValidationError(errors.CodeInvalidFilter,
			fmt.Sprintf("unsupported operator %q", p.Op))
	}
	return nil
}
