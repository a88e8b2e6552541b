package grpc

import (
	"strings"
	"testing"
	"time"

	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestQueryDocument_PreservesCanonicalForm(t *testing.T) {
	spec := types.FilterSpec{
		ProjectIDs: []int64{1 << 60, 3},
		GroupIDs:   []int64{9007199254740993},
		EventIDs:   []string{strings.Repeat("a", 32)},
		Start:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		Conditions: []types.Condition{
			{Field: "platform", Op: types.OpEq, Value: "python"},
			{Field: "tags[environment]", Op: types.OpNotIn, Value: []string{"dev", "test"}},
		},
		OrderBy: []types.Ordering{{Field: types.ColumnGroupID}, {Field: types.ColumnTimestamp, Desc: true}},
		Limit:   25,
		Offset:  5,
	}
	q, err := query.Build(spec, query.Options{ExcludePayload: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	doc, err := EncodeQuery(q)
	if err != nil {
		t.Fatalf("EncodeQuery failed: %v", err)
	}
	got, err := DecodeQuery(doc)
	if err != nil {
		t.Fatalf("DecodeQuery failed: %v", err)
	}
	if got.String() != q.String() {
		t.Errorf("query changed on the wire:\n got %s\nwant %s", got.String(), q.String())
	}
	if got.GroupIDs[0] != 9007199254740993 {
		t.Errorf("group id lost precision: %d", got.GroupIDs[0])
	}
}

func TestQueryDocument_Keyset(t *testing.T) {
	cursor := query.EncodeCursor(query.Keyset{Timestamp: 1704196800, EventID: strings.Repeat("b", 32)})
	q, err := query.Build(types.FilterSpec{ProjectIDs: []int64{1}, Cursor: cursor}, query.Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	doc, err := EncodeQuery(q)
	if err != nil {
		t.Fatalf("EncodeQuery failed: %v", err)
	}
	got, err := DecodeQuery(doc)
	if err != nil {
		t.Fatalf("DecodeQuery failed: %v", err)
	}
	if got.After == nil || *got.After != *q.After {
		t.Errorf("expected keyset %+v, got %+v", q.After, got.After)
	}
}

func TestDecodeQuery_AcceptsNumbers(t *testing.T) {
	doc, err := structpb.NewStruct(map[string]any{
		"project_ids": []any{float64(7)},
		"limit":       float64(10),
		"order_by":    []any{map[string]any{"field": "timestamp", "desc": true}},
	})
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}
	q, err := DecodeQuery(doc)
	if err != nil {
		t.Fatalf("DecodeQuery failed: %v", err)
	}
	if len(q.ProjectIDs) != 1 || q.ProjectIDs[0] != 7 {
		t.Errorf("unexpected project ids %v", q.ProjectIDs)
	}
	if q.Limit != 10 {
		t.Errorf("expected limit 10, got %d", q.Limit)
	}
	if len(q.Columns) != len(query.AllColumns) {
		t.Errorf("expected all columns by default, got %v", q.Columns)
	}
}

func TestDecodeQuery_Rejects(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"project_ids": []any{"1"},
			"limit":       float64(10),
			"order_by":    []any{map[string]any{"field": "timestamp", "desc": true}},
		}
	}

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing project scope", func(d map[string]any) { delete(d, "project_ids") }},
		{"zero limit", func(d map[string]any) { d["limit"] = float64(0) }},
		{"fractional limit", func(d map[string]any) { d["limit"] = 1.5 }},
		{"negative offset", func(d map[string]any) { d["offset"] = float64(-1) }},
		{"no ordering", func(d map[string]any) { delete(d, "order_by") }},
		{"unknown operator", func(d map[string]any) {
			d["predicates"] = []any{map[string]any{"column": "platform", "op": "LIKE", "values": []any{"py%"}}}
		}},
		{"unknown column", func(d map[string]any) {
			d["predicates"] = []any{map[string]any{"column": "message", "op": "=", "values": []any{"x"}}}
		}},
		{"equality with two values", func(d map[string]any) {
			d["predicates"] = []any{map[string]any{"column": "type", "op": "=", "values": []any{"a", "b"}}}
		}},
		{"bad keyset", func(d map[string]any) {
			d["after"] = map[string]any{"timestamp": "1", "event_id": "nope"}
		}},
		{"subquery as column", func(d map[string]any) {
			d["columns"] = []any{"event_id", "timestamp", "(SELECT group_concat(name) FROM sqlite_master) AS leak"}
		}},
		{"unknown column selected", func(d map[string]any) { d["columns"] = []any{"message"} }},
		{"expression as sort field", func(d map[string]any) {
			d["order_by"] = []any{map[string]any{"field": "timestamp; DROP TABLE events", "desc": true}}
		}},
		{"payload as sort field", func(d map[string]any) {
			d["order_by"] = []any{map[string]any{"field": "payload"}}
		}},
		{"tag key breaking out of the json path", func(d map[string]any) {
			d["predicates"] = []any{map[string]any{"column": "tags", "key": `x"') = '' OR 1=1 OR ('`, "op": "=", "values": []any{"v"}}}
		}},
		{"tag predicate without key", func(d map[string]any) {
			d["predicates"] = []any{map[string]any{"column": "tags", "op": "=", "values": []any{"v"}}}
		}},
		{"malformed event id", func(d map[string]any) { d["event_ids"] = []any{"1 OR 1=1"} }},
		{"non-positive project", func(d map[string]any) { d["project_ids"] = []any{"0"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(d)
			doc, err := structpb.NewStruct(d)
			if err != nil {
				t.Fatalf("NewStruct failed: %v", err)
			}
			if _, err := DecodeQuery(doc); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestResultDocument_RestoresValueTypes(t *testing.T) {
	res := &query.Result{
		Columns: query.AllColumns,
		Rows: []query.Row{{
			types.ColumnEventID:   strings.Repeat("c", 32),
			types.ColumnProjectID: int64(1),
			types.ColumnGroupID:   int64(9007199254740993),
			types.ColumnTimestamp: int64(1704196800),
			types.ColumnPlatform:  "go",
			types.ColumnType:      "error",
			types.ColumnTags:      map[string]string{"release": "1.0"},
			types.ColumnPayload:   map[string]any{"message": "boom", "count": float64(2)},
			"sdk_name":            "sentry.go",
		}},
		Stats: query.ExecutionStats{PartitionsScanned: 2, PartitionsPruned: 3, RowsScanned: 40, ExecutionTimeMs: 5},
	}

	doc, err := EncodeResult(res)
	if err != nil {
		t.Fatalf("EncodeResult failed: %v", err)
	}
	got, err := DecodeResult(doc)
	if err != nil {
		t.Fatalf("DecodeResult failed: %v", err)
	}
	if len(got.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got.Rows))
	}
	row := got.Rows[0]
	if v, ok := row[types.ColumnGroupID].(int64); !ok || v != 9007199254740993 {
		t.Errorf("group_id: got %#v", row[types.ColumnGroupID])
	}
	if v, ok := row[types.ColumnTimestamp].(int64); !ok || v != 1704196800 {
		t.Errorf("timestamp: got %#v", row[types.ColumnTimestamp])
	}
	if tags, ok := row[types.ColumnTags].(map[string]string); !ok || tags["release"] != "1.0" {
		t.Errorf("tags: got %#v", row[types.ColumnTags])
	}
	if p, ok := row[types.ColumnPayload].(map[string]any); !ok || p["message"] != "boom" {
		t.Errorf("payload: got %#v", row[types.ColumnPayload])
	}
	if row["sdk_name"] != "sentry.go" {
		t.Errorf("unknown column not passed through: %#v", row["sdk_name"])
	}
	if got.Stats != res.Stats {
		t.Errorf("stats: got %+v, want %+v", got.Stats, res.Stats)
	}
}

func TestDecodeResult_RejectsWrongTypes(t *testing.T) {
	doc, err := structpb.NewStruct(map[string]any{
		"columns": []any{"event_id", "timestamp"},
		"rows":    []any{map[string]any{"event_id": "x", "timestamp": "yesterday"}},
	})
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}
	if _, err := DecodeResult(doc); err == nil {
		t.Error("expected decode error for non-numeric timestamp")
	}
}
