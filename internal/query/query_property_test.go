package query

import (
	"reflect"
	"testing"

	"github.com/arkilian/eventstore/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_DeterministicConstruction checks that the order and
// multiplicity of filter values never changes the built query.
func TestProperty_DeterministicConstruction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("permuted filter values build the same query", prop.ForAll(
		func(projects, groups []int64, platforms []string) bool {
			if len(projects) == 0 {
				projects = []int64{1}
			}
			spec := types.FilterSpec{
				ProjectIDs: projects,
				GroupIDs:   groups,
				Conditions: []types.Condition{{Field: "platform", Op: types.OpIn, Value: platforms}},
			}
			permuted := types.FilterSpec{
				ProjectIDs: append(reverseInts(projects), projects...),
				GroupIDs:   reverseInts(groups),
				Conditions: []types.Condition{{Field: "platform", Op: types.OpIn, Value: reverseStrings(platforms)}},
			}

			a, err := Build(spec, Options{})
			if err != nil {
				return false
			}
			b, err := Build(permuted, Options{})
			if err != nil {
				return false
			}
			return reflect.DeepEqual(a, b) && Fingerprint(a) == Fingerprint(b)
		},
		gen.SliceOf(gen.Int64Range(1, 50)),
		gen.SliceOf(gen.Int64Range(1, 50)),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestProperty_OrderingTieBreak checks that sorting under the default
// ordering yields timestamp descending with event id ascending on ties,
// whatever the input order, and that a k-way merge agrees with a full sort.
func TestProperty_OrderingTieBreak(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	q, err := Build(types.FilterSpec{ProjectIDs: []int64{1}}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	properties.Property("default ordering is total and deterministic", prop.ForAll(
		func(timestamps []int64) bool {
			rows := make([]Row, len(timestamps))
			for i, ts := range timestamps {
				rows[i] = row(eventID(len(timestamps)-i), ts)
			}
			SortRows(rows, q.OrderBy)

			for i := 1; i < len(rows); i++ {
				prevTS := rows[i-1][types.ColumnTimestamp].(int64)
				curTS := rows[i][types.ColumnTimestamp].(int64)
				if prevTS < curTS {
					return false
				}
				if prevTS == curTS && rows[i-1][types.ColumnEventID].(string) >= rows[i][types.ColumnEventID].(string) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 5)),
	))

	properties.Property("k-way merge equals full sort", prop.ForAll(
		func(timestamps []int64, splits int) bool {
			all := make([]Row, len(timestamps))
			for i, ts := range timestamps {
				all[i] = row(eventID(i), ts)
			}
			streams := make([][]Row, splits)
			for i, r := range all {
				streams[i%splits] = append(streams[i%splits], r)
			}
			for _, s := range streams {
				SortRows(s, q.OrderBy)
			}

			expected := append([]Row(nil), all...)
			SortRows(expected, q.OrderBy)
			merged := Merge(streams, q.OrderBy, -1)

			if len(merged) != len(expected) {
				return false
			}
			for i := range merged {
				if merged[i][types.ColumnEventID] != expected[i][types.ColumnEventID] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 20)),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func reverseInts(in []int64) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func reverseStrings(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
