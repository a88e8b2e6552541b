package partitioned

import (
	"strings"
	"testing"
	"time"

	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
)

func TestCompile(t *testing.T) {
	q, err := query.Build(types.FilterSpec{
		ProjectIDs: []int64{2, 1},
		GroupIDs:   []int64{5},
		Start:      time.Unix(1000, 0),
		End:        time.Unix(2000, 0),
		Conditions: []types.Condition{
			{Field: "tags[environment]", Op: types.OpIn, Value: []string{"prod", "beta"}},
			{Field: "platform", Op: types.OpNotEq, Value: "go"},
		},
		Limit:  10,
		Offset: 5,
	}, query.Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sqlText, args, err := compile(q, nil)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	for _, want := range []string{
		"FROM events",
		"project_id IN (?,?)",
		"group_id IN (?)",
		"timestamp >= ?",
		"timestamp < ?",
		`COALESCE(json_extract(tags, ?), '') IN (?,?)`,
		"platform <> ?",
		"ORDER BY timestamp DESC, event_id ASC",
		"LIMIT 15",
	} {
		if !strings.Contains(sqlText, want) {
			t.Errorf("expected %q in %s", want, sqlText)
		}
	}
	if strings.Contains(sqlText, "OFFSET") {
		t.Errorf("offset must be applied after the merge: %s", sqlText)
	}
	if len(args) != 9 {
		t.Errorf("expected 9 args, got %d: %v", len(args), args)
	}
	var boundPath bool
	for _, a := range args {
		if a == `$."environment"` {
			boundPath = true
		}
	}
	if !boundPath {
		t.Errorf("tag path should be bound, args %v", args)
	}
}

func TestCompile_RefusesIdentifiersOutsideSchema(t *testing.T) {
	valid := func() *query.Query {
		q, err := query.Build(types.FilterSpec{ProjectIDs: []int64{1}}, query.Options{})
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return q
	}

	tests := []struct {
		name   string
		mutate func(q *query.Query)
	}{
		{"subquery column", func(q *query.Query) {
			q.Columns = append(q.Columns, "(SELECT group_concat(name) FROM sqlite_master) AS leak")
		}},
		{"expression sort field", func(q *query.Query) {
			q.OrderBy = []types.Ordering{{Field: "timestamp, (SELECT 1)"}}
		}},
		{"quote in tag key", func(q *query.Query) {
			q.Predicates = []query.Predicate{{Column: types.ColumnTags, Key: `a"') OR 1=1 --`, Op: types.OpEq, Values: []string{"x"}}}
		}},
		{"unknown predicate column", func(q *query.Query) {
			q.Predicates = []query.Predicate{{Column: "1=1 OR platform", Op: types.OpEq, Values: []string{"x"}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := valid()
			tt.mutate(q)
			if sqlText, _, err := compile(q, nil); err == nil {
				t.Errorf("expected compile error, got %s", sqlText)
			}
		})
	}
}

func TestCompile_PassesThroughUnknownTableColumns(t *testing.T) {
	q, err := query.Build(types.FilterSpec{ProjectIDs: []int64{1}}, query.Options{ExcludePayload: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	sqlText, _, err := compile(q, append(append([]string(nil), query.AllColumns...), "sdk_name", `odd"name`))
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !strings.Contains(sqlText, `"sdk_name"`) || !strings.Contains(sqlText, `"odd""name"`) {
		t.Errorf("extra columns missing or unquoted: %s", sqlText)
	}
	if strings.Contains(sqlText, types.ColumnPayload) {
		t.Errorf("payload selected for an unfetched query: %s", sqlText)
	}
}

func TestCompile_Keyset(t *testing.T) {
	q, err := query.Build(types.FilterSpec{
		ProjectIDs: []int64{1},
		Cursor:     query.EncodeCursor(query.Keyset{Timestamp: 1500, EventID: strings.Repeat("a", 32)}),
	}, query.Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sqlText, args, err := compile(q, nil)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !strings.Contains(sqlText, "(timestamp < ? OR (timestamp = ? AND event_id > ?))") {
		t.Errorf("keyset condition missing: %s", sqlText)
	}
	if len(args) != 4 {
		t.Errorf("expected 4 args, got %v", args)
	}
}

func TestFilterFor(t *testing.T) {
	q, _ := query.Build(types.FilterSpec{ProjectIDs: []int64{1}, End: time.Unix(500, 0)}, query.Options{})
	f := filterFor(q)
	if f.Start != 0 || f.End != 500 {
		t.Errorf("unexpected bounds %+v", f)
	}
}
