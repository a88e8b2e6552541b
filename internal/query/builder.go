package query

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/pkg/types"
)

const (
	// DefaultLimit is applied when a FilterSpec has no limit
	DefaultLimit = 100
	// DefaultMaxLimit caps any requested limit
	DefaultMaxLimit = 1000
)

// tagKeyPattern restricts tag keys to the characters tag keys may carry.
// Keys end up inside a JSON path, so anything else is rejected.
var tagKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:@/-]{1,200}$`)

// sortableColumns lists the columns ORDER BY accepts.
var sortableColumns = map[string]bool{
	types.ColumnTimestamp: true,
	types.ColumnEventID:   true,
	types.ColumnProjectID: true,
	types.ColumnGroupID:   true,
	types.ColumnPlatform:  true,
	types.ColumnType:      true,
}

// Options controls how a FilterSpec is turned into a Query.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	// ExcludePayload leaves the payload column out of the selection
	ExcludePayload bool
}

func (o Options) limits() (int, int) {
	def, maxLimit := o.DefaultLimit, o.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	if def <= 0 {
		def = DefaultLimit
	}
	if def > maxLimit {
		def = maxLimit
	}
	return def, maxLimit
}

// Build converts a FilterSpec into a canonical Query. Value sets are sorted
// and deduplicated, predicates are ordered, and event_id ASC is appended as the
// final sort key, so equal inputs always produce equal queries.
//
// Build does not check project scope or the time range; callers validate
// those first. It rejects malformed conditions, sort fields and cursors.
func Build(spec types.FilterSpec, opts Options) (*Query, error) {
	q := &Query{
		ProjectIDs: uniqueInts(spec.ProjectIDs),
		GroupIDs:   uniqueInts(spec.GroupIDs),
		EventIDs:   uniqueEventIDs(spec.EventIDs),
		Start:      ceilSecond(spec.Start),
		End:        ceilSecond(spec.End),
	}

	if opts.ExcludePayload {
		q.Columns = append([]string(nil), AllColumns[:len(AllColumns)-1]...)
	} else {
		q.Columns = append([]string(nil), AllColumns...)
	}

	preds, err := buildPredicates(spec.Conditions)
	if err != nil {
		return nil, err
	}
	q.Predicates = preds

	orderBy, err := buildOrdering(spec.OrderBy)
	if err != nil {
		return nil, err
	}
	q.OrderBy = orderBy

	def, maxLimit := opts.limits()
	switch {
	case spec.Limit < 0:
		return nil, errors.NewValidationError(errors.CodeInvalidFilter, "limit must not be negative")
	case spec.Limit == 0:
		q.Limit = def
	case spec.Limit > maxLimit:
		q.Limit = maxLimit
	default:
		q.Limit = spec.Limit
	}
	if spec.Offset < 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidFilter, "offset must not be negative")
	}
	q.Offset = spec.Offset

	if spec.Cursor != "" {
		if spec.Offset > 0 {
			return nil, errors.NewValidationError(errors.CodeInvalidCursor, "cursor and offset are mutually exclusive")
		}
		if !IsDefaultOrdering(q.OrderBy) {
			return nil, errors.NewValidationError(errors.CodeInvalidCursor, "cursor requires the default ordering")
		}
		ks, err := DecodeCursor(spec.Cursor)
		if err != nil {
			return nil, err
		}
		q.After = &ks
	}

	return q, nil
}

// IsDefaultOrdering reports whether orderBy is timestamp DESC, event_id ASC.
func IsDefaultOrdering(orderBy []types.Ordering) bool {
	return len(orderBy) == 2 &&
		orderBy[0] == types.Ordering{Field: types.ColumnTimestamp, Desc: true} &&
		orderBy[1] == types.Ordering{Field: types.ColumnEventID}
}

func buildOrdering(in []types.Ordering) ([]types.Ordering, error) {
	if len(in) == 0 {
		in = types.DefaultOrdering()
	}
	seen := make(map[string]bool, len(in)+1)
	out := make([]types.Ordering, 0, len(in)+1)
	for _, o := range in {
		if !sortableColumns[o.Field] {
			return nil, errors.NewValidationError(errors.CodeInvalidFilter,
				fmt.Sprintf("cannot order by %q", o.Field))
		}
		if seen[o.Field] {
			continue
		}
		seen[o.Field] = true
		out = append(out, o)
	}
	if !seen[types.ColumnEventID] {
		out = append(out, types.Ordering{Field: types.ColumnEventID})
	}
	return out, nil
}

func buildPredicates(conds []types.Condition) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(conds))
	for _, c := range conds {
		p, err := buildPredicate(c)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	sort.SliceStable(preds, func(i, j int) bool {
		return predicateKey(preds[i]) < predicateKey(preds[j])
	})
	return dedupePredicates(preds), nil
}

func buildPredicate(c types.Condition) (Predicate, error) {
	var p Predicate
	switch c.Field {
	case types.ColumnPlatform, types.ColumnType:
		p.Column = c.Field
	default:
		key, ok := c.TagKey()
		if !ok {
			return p, errors.NewValidationError(errors.CodeInvalidFilter,
				fmt.Sprintf("unsupported condition field %q", c.Field))
		}
		if !tagKeyPattern.MatchString(key) {
			return p, errors.NewValidationError(errors.CodeInvalidFilter,
				fmt.Sprintf("invalid tag key %q", key))
		}
		p.Column = types.ColumnTags
		p.Key = key
	}

	values, err := conditionValues(c.Value)
	if err != nil {
		return p, errors.NewValidationError(errors.CodeInvalidFilter,
			fmt.Sprintf("condition on %q: %v", c.Field, err))
	}

	switch c.Op {
	case types.OpEq, types.OpNotEq:
		if len(values) != 1 {
			return p, errors.NewValidationError(errors.CodeInvalidFilter,
				fmt.Sprintf("operator %s on %q takes exactly one value", c.Op, c.Field))
		}
	case types.OpIn, types.OpNotIn:
		values = uniqueStrings(values)
	default:
		return p, errors.NewValidationError(errors.CodeInvalidFilter,
			fmt.Sprintf("unsupported operator %q", c.Op))
	}
	p.Op = c.Op
	p.Values = values
	return p, nil
}

// conditionValues accepts a string, a []string, or a []any of strings as
// produced by JSON decoding.
func conditionValues(v any) ([]string, error) {
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []string:
		return append([]string(nil), val...), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("value %v is not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func predicateKey(p Predicate) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%q", p.Column, p.Key, p.Op, p.Values)
}

func dedupePredicates(preds []Predicate) []Predicate {
	out := preds[:0]
	var last string
	for i, p := range preds {
		k := predicateKey(p)
		if i > 0 && k == last {
			continue
		}
		last = k
		out = append(out, p)
	}
	return out
}

// ceilSecond rounds a bound up to a whole second. Event timestamps are whole
// seconds, so [ceil(Start), ceil(End)) selects exactly the events with
// Start <= ts < End.
func ceilSecond(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	floor := t.Truncate(time.Second)
	if floor.Before(t) {
		return floor.Add(time.Second)
	}
	return floor
}

func uniqueInts(in []int64) []int64 {
	if len(in) == 0 {
		return nil
	}
	out := append([]int64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func uniqueEventIDs(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	ids := make([]string, len(in))
	for i, id := range in {
		ids[i] = types.NormalizeEventID(id)
	}
	return uniqueStrings(ids)
}
