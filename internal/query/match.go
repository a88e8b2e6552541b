package query

import (
	"sort"

	"github.com/arkilian/eventstore/pkg/types"
)

// Match evaluates the query's filters against a row. Backends that cannot
// push filters down use it to filter in process. A missing tag compares as
// the empty string.
func Match(q *Query, row Row) bool {
	projectID, _ := row[types.ColumnProjectID].(int64)
	if !containsInt(q.ProjectIDs, projectID) {
		return false
	}
	if len(q.GroupIDs) > 0 {
		groupID, _ := row[types.ColumnGroupID].(int64)
		if !containsInt(q.GroupIDs, groupID) {
			return false
		}
	}
	if len(q.EventIDs) > 0 {
		eventID, _ := row[types.ColumnEventID].(string)
		if !containsString(q.EventIDs, eventID) {
			return false
		}
	}

	ts, _ := row[types.ColumnTimestamp].(int64)
	if !q.Start.IsZero() && ts < q.Start.Unix() {
		return false
	}
	if !q.End.IsZero() && ts >= q.End.Unix() {
		return false
	}

	for _, p := range q.Predicates {
		if !matchPredicate(p, row) {
			return false
		}
	}

	if q.After != nil && !q.After.Admits(row) {
		return false
	}
	return true
}

func matchPredicate(p Predicate, row Row) bool {
	var actual string
	if p.Column == types.ColumnTags {
		tags, _ := row[types.ColumnTags].(map[string]string)
		actual = tags[p.Key]
	} else {
		actual, _ = row[p.Column].(string)
	}

	switch p.Op {
	case types.OpEq:
		return actual == p.Values[0]
	case types.OpNotEq:
		return actual != p.Values[0]
	case types.OpIn:
		return containsString(p.Values, actual)
	case types.OpNotIn:
		return !containsString(p.Values, actual)
	default:
		return false
	}
}

// containsInt expects a sorted slice, as produced by Build.
func containsInt(sorted []int64, v int64) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= v })
	return i < len(sorted) && sorted[i] == v
}

func containsString(sorted []string, v string) bool {
	i := sort.SearchStrings(sorted, v)
	return i < len(sorted) && sorted[i] == v
}
