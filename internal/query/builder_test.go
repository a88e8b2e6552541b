package query

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/pkg/types"
)

func TestBuild_Defaults(t *testing.T) {
	q, err := Build(types.FilterSpec{ProjectIDs: []int64{3, 1, 3}}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !reflect.DeepEqual(q.ProjectIDs, []int64{1, 3}) {
		t.Errorf("expected sorted unique project ids, got %v", q.ProjectIDs)
	}
	if q.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, q.Limit)
	}
	if !IsDefaultOrdering(q.OrderBy) {
		t.Errorf("expected default ordering, got %v", q.OrderBy)
	}
	if !reflect.DeepEqual(q.Columns, AllColumns) {
		t.Errorf("expected all columns, got %v", q.Columns)
	}
}

func TestBuild_LimitCapping(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		opts  Options
		want  int
	}{
		{"default", 0, Options{}, 100},
		{"explicit", 25, Options{}, 25},
		{"capped", 5000, Options{}, 1000},
		{"custom cap", 80, Options{DefaultLimit: 10, MaxLimit: 50}, 50},
		{"custom default", 0, Options{DefaultLimit: 10, MaxLimit: 50}, 10},
		{"default above cap", 0, Options{DefaultLimit: 500, MaxLimit: 50}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Build(types.FilterSpec{ProjectIDs: []int64{1}, Limit: tt.limit}, tt.opts)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if q.Limit != tt.want {
				t.Errorf("limit = %d, want %d", q.Limit, tt.want)
			}
		})
	}
}

func TestBuild_ExcludePayload(t *testing.T) {
	q, err := Build(types.FilterSpec{ProjectIDs: []int64{1}}, Options{ExcludePayload: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if q.HasColumn(types.ColumnPayload) {
		t.Error("payload column should not be selected")
	}
	if !q.HasColumn(types.ColumnTags) {
		t.Error("tags column should still be selected")
	}
}

func TestBuild_TieBreakAppended(t *testing.T) {
	q, err := Build(types.FilterSpec{
		ProjectIDs: []int64{1},
		OrderBy:    []types.Ordering{{Field: "platform"}, {Field: "timestamp", Desc: true}, {Field: "platform", Desc: true}},
	}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []types.Ordering{
		{Field: "platform"},
		{Field: "timestamp", Desc: true},
		{Field: "event_id"},
	}
	if !reflect.DeepEqual(q.OrderBy, want) {
		t.Errorf("OrderBy = %v, want %v", q.OrderBy, want)
	}
}

func TestBuild_ExplicitEventIDOrderKept(t *testing.T) {
	q, err := Build(types.FilterSpec{
		ProjectIDs: []int64{1},
		OrderBy:    []types.Ordering{{Field: "event_id", Desc: true}},
	}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(q.OrderBy) != 1 || !q.OrderBy[0].Desc {
		t.Errorf("expected a single event_id DESC key, got %v", q.OrderBy)
	}
}

func TestBuild_Predicates(t *testing.T) {
	q, err := Build(types.FilterSpec{
		ProjectIDs: []int64{1},
		Conditions: []types.Condition{
			{Field: "tags[environment]", Op: types.OpIn, Value: []any{"prod", "beta", "prod"}},
			{Field: "platform", Op: types.OpEq, Value: "python"},
			{Field: "platform", Op: types.OpEq, Value: "python"},
		},
	}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(q.Predicates) != 2 {
		t.Fatalf("expected 2 predicates after dedupe, got %d", len(q.Predicates))
	}
	if q.Predicates[0].Column != types.ColumnPlatform {
		t.Errorf("expected platform predicate first, got %s", q.Predicates[0].Column)
	}
	tag := q.Predicates[1]
	if tag.Key != "environment" || !reflect.DeepEqual(tag.Values, []string{"beta", "prod"}) {
		t.Errorf("unexpected tag predicate %+v", tag)
	}
}

func TestBuild_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		spec types.FilterSpec
		code string
	}{
		{"unknown field", types.FilterSpec{Conditions: []types.Condition{{Field: "message", Op: types.OpEq, Value: "x"}}}, errors.CodeInvalidFilter},
		{"bad tag key", types.FilterSpec{Conditions: []types.Condition{{Field: "tags[a'b]", Op: types.OpEq, Value: "x"}}}, errors.CodeInvalidFilter},
		{"bad operator", types.FilterSpec{Conditions: []types.Condition{{Field: "type", Op: "LIKE", Value: "x"}}}, errors.CodeInvalidFilter},
		{"eq with many", types.FilterSpec{Conditions: []types.Condition{{Field: "type", Op: types.OpEq, Value: []string{"a", "b"}}}}, errors.CodeInvalidFilter},
		{"non string value", types.FilterSpec{Conditions: []types.Condition{{Field: "type", Op: types.OpEq, Value: 42}}}, errors.CodeInvalidFilter},
		{"bad order field", types.FilterSpec{OrderBy: []types.Ordering{{Field: "payload"}}}, errors.CodeInvalidFilter},
		{"negative limit", types.FilterSpec{Limit: -1}, errors.CodeInvalidFilter},
		{"negative offset", types.FilterSpec{Offset: -1}, errors.CodeInvalidFilter},
		{"garbage cursor", types.FilterSpec{Cursor: "!!"}, errors.CodeInvalidCursor},
		{"cursor with offset", types.FilterSpec{Cursor: EncodeCursor(Keyset{Timestamp: 1, EventID: strings.Repeat("a", 32)}), Offset: 5}, errors.CodeInvalidCursor},
		{"cursor with custom order", types.FilterSpec{Cursor: EncodeCursor(Keyset{Timestamp: 1, EventID: strings.Repeat("a", 32)}), OrderBy: []types.Ordering{{Field: "platform"}}}, errors.CodeInvalidCursor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.spec.ProjectIDs = []int64{1}
			_, err := Build(tt.spec, Options{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
			if errors.GetCode(err) != tt.code {
				t.Errorf("code = %s, want %s", errors.GetCode(err), tt.code)
			}
		})
	}
}

func TestBuild_TimeBoundsRoundUpToSeconds(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 999, time.FixedZone("X", 3600))
	q, err := Build(types.FilterSpec{ProjectIDs: []int64{1}, Start: start}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if q.Start.Nanosecond() != 0 || q.Start.Location() != time.UTC {
		t.Errorf("expected UTC second precision, got %v", q.Start)
	}
	if q.Start.Unix() != start.Unix()+1 {
		t.Errorf("fractional start should round up: %v vs %v", q.Start, start)
	}
	if !q.End.IsZero() {
		t.Error("unset end must stay unbounded")
	}

	whole := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	q, err = Build(types.FilterSpec{ProjectIDs: []int64{1}, Start: whole, End: whole.Add(500 * time.Millisecond)}, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !q.Start.Equal(whole) {
		t.Errorf("whole-second start must not move, got %v", q.Start)
	}
	if !q.End.Equal(whole.Add(time.Second)) {
		t.Errorf("fractional end should round up, got %v", q.End)
	}
}

func TestBuild_FractionalEndKeepsEarlierEvent(t *testing.T) {
	ts := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	row := Row{
		types.ColumnEventID:   strings.Repeat("a", 32),
		types.ColumnProjectID: int64(1),
		types.ColumnTimestamp: ts.Unix(),
	}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"end half a second later", time.Time{}, ts.Add(500 * time.Millisecond), true},
		{"end equal", time.Time{}, ts, false},
		{"start half a second later", ts.Add(500 * time.Millisecond), time.Time{}, false},
		{"start half a second earlier", ts.Add(-500 * time.Millisecond), time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Build(types.FilterSpec{ProjectIDs: []int64{1}, Start: tt.start, End: tt.end}, Options{})
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if got := Match(q, row); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	ks := Keyset{Timestamp: 1700000000, EventID: strings.Repeat("b", 32)}
	got, err := DecodeCursor(EncodeCursor(ks))
	if err != nil {
		t.Fatalf("DecodeCursor failed: %v", err)
	}
	if got != ks {
		t.Errorf("got %+v, want %+v", got, ks)
	}
}

func TestFingerprint_StableAndDistinct(t *testing.T) {
	a, _ := Build(types.FilterSpec{ProjectIDs: []int64{2, 1}, GroupIDs: []int64{7}}, Options{})
	b, _ := Build(types.FilterSpec{ProjectIDs: []int64{1, 2, 2}, GroupIDs: []int64{7}}, Options{})
	c, _ := Build(types.FilterSpec{ProjectIDs: []int64{1, 2}, GroupIDs: []int64{8}}, Options{})

	if Fingerprint(a) != Fingerprint(b) {
		t.Errorf("equivalent specs should share a fingerprint: %s vs %s", Fingerprint(a), Fingerprint(b))
	}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("different specs should not share a fingerprint")
	}
}
