package grpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
	"google.golang.org/protobuf/types/known/structpb"
)

// Queries and results cross the wire as google.protobuf.Struct documents.
// int64 values travel as decimal strings so ids above 2^53 survive the
// float64 number type; decoders also accept plain numbers.

// EncodeQuery converts a query into its wire document.
func EncodeQuery(q *query.Query) (*structpb.Struct, error) {
	doc := map[string]any{
		"columns":     stringList(q.Columns),
		"project_ids": int64List(q.ProjectIDs),
		"group_ids":   int64List(q.GroupIDs),
		"event_ids":   stringList(q.EventIDs),
		"limit":       int64(q.Limit),
		"offset":      int64(q.Offset),
	}
	if !q.Start.IsZero() {
		doc["start"] = strconv.FormatInt(q.Start.Unix(), 10)
	}
	if !q.End.IsZero() {
		doc["end"] = strconv.FormatInt(q.End.Unix(), 10)
	}

	preds := make([]any, len(q.Predicates))
	for i, p := range q.Predicates {
		preds[i] = map[string]any{
			"column": p.Column,
			"key":    p.Key,
			"op":     string(p.Op),
			"values": stringList(p.Values),
		}
	}
	doc["predicates"] = preds

	order := make([]any, len(q.OrderBy))
	for i, o := range q.OrderBy {
		order[i] = map[string]any{"field": o.Field, "desc": o.Desc}
	}
	doc["order_by"] = order

	if q.After != nil {
		doc["after"] = map[string]any{
			"timestamp": strconv.FormatInt(q.After.Timestamp, 10),
			"event_id":  q.After.EventID,
		}
	}
	return structpb.NewStruct(doc)
}

// DecodeQuery parses a wire document into a query and validates it with
// query.Validate, so no unchecked identifier reaches a backend.
func DecodeQuery(s *structpb.Struct) (*query.Query, error) {
	if s == nil {
		return nil, fmt.Errorf("empty query document")
	}
	doc := s.AsMap()
	q := &query.Query{}
	var err error

	if q.Columns, err = toStrings(doc["columns"]); err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	if len(q.Columns) == 0 {
		q.Columns = append([]string(nil), query.AllColumns...)
	}
	if q.ProjectIDs, err = toInt64s(doc["project_ids"]); err != nil {
		return nil, fmt.Errorf("project_ids: %w", err)
	}
	if q.GroupIDs, err = toInt64s(doc["group_ids"]); err != nil {
		return nil, fmt.Errorf("group_ids: %w", err)
	}
	if q.EventIDs, err = toStrings(doc["event_ids"]); err != nil {
		return nil, fmt.Errorf("event_ids: %w", err)
	}

	if v, ok := doc["start"]; ok {
		sec, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		q.Start = time.Unix(sec, 0).UTC()
	}
	if v, ok := doc["end"]; ok {
		sec, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
		q.End = time.Unix(sec, 0).UTC()
	}

	limit, err := toInt64(doc["limit"])
	if err != nil {
		return nil, fmt.Errorf("limit: %w", err)
	}
	q.Limit = int(limit)
	if v, ok := doc["offset"]; ok {
		offset, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("offset: %w", err)
		}
		q.Offset = int(offset)
	}

	if q.Predicates, err = decodePredicates(doc["predicates"]); err != nil {
		return nil, err
	}
	if q.OrderBy, err = decodeOrdering(doc["order_by"]); err != nil {
		return nil, err
	}

	if v, ok := doc["after"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("after: expected object, got %T", v)
		}
		ts, err := toInt64(m["timestamp"])
		if err != nil {
			return nil, fmt.Errorf("after.timestamp: %w", err)
		}
		q.After = &query.Keyset{Timestamp: ts, EventID: asText(m["event_id"])}
	}

	if err := query.Validate(q); err != nil {
		return nil, err
	}
	return q, nil
}

func decodePredicates(v any) ([]query.Predicate, error) {
	items, err := toList(v)
	if err != nil {
		return nil, fmt.Errorf("predicates: %w", err)
	}
	preds := make([]query.Predicate, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("predicates[%d]: expected object, got %T", i, item)
		}
		p := query.Predicate{Op: types.Operator(asText(m["op"]))}
		p.Column = asText(m["column"])
		p.Key = asText(m["key"])
		if p.Values, err = toStrings(m["values"]); err != nil {
			return nil, fmt.Errorf("predicates[%d].values: %w", i, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func decodeOrdering(v any) ([]types.Ordering, error) {
	items, err := toList(v)
	if err != nil {
		return nil, fmt.Errorf("order_by: %w", err)
	}
	out := make([]types.Ordering, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("order_by[%d]: expected object, got %T", i, item)
		}
		desc, _ := m["desc"].(bool)
		out = append(out, types.Ordering{Field: asText(m["field"]), Desc: desc})
	}
	return out, nil
}

// EncodeResult converts a backend result into its wire document.
func EncodeResult(r *query.Result) (*structpb.Struct, error) {
	rows := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]any, len(row))
		for col, v := range row {
			m[col] = wireValue(v)
		}
		rows[i] = m
	}
	return structpb.NewStruct(map[string]any{
		"columns": stringList(r.Columns),
		"rows":    rows,
		"stats": map[string]any{
			"partitions_scanned": int64(r.Stats.PartitionsScanned),
			"partitions_pruned":  int64(r.Stats.PartitionsPruned),
			"rows_scanned":       strconv.FormatInt(r.Stats.RowsScanned, 10),
			"execution_time_ms":  strconv.FormatInt(r.Stats.ExecutionTimeMs, 10),
		},
	})
}

// DecodeResult parses a wire document into a result, restoring the canonical
// value type of every schema column.
func DecodeResult(s *structpb.Struct) (*query.Result, error) {
	if s == nil {
		return nil, fmt.Errorf("empty result document")
	}
	doc := s.AsMap()
	columns, err := toStrings(doc["columns"])
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	items, err := toList(doc["rows"])
	if err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	res := &query.Result{Columns: columns, Rows: make([]query.Row, 0, len(items))}
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rows[%d]: expected object, got %T", i, item)
		}
		row := make(query.Row, len(m))
		for col, v := range m {
			cv, err := rowValue(col, v)
			if err != nil {
				return nil, fmt.Errorf("rows[%d].%s: %w", i, col, err)
			}
			row[col] = cv
		}
		res.Rows = append(res.Rows, row)
	}

	if stats, ok := doc["stats"].(map[string]any); ok {
		scanned, _ := toInt64(stats["partitions_scanned"])
		pruned, _ := toInt64(stats["partitions_pruned"])
		res.Stats = query.ExecutionStats{
			PartitionsScanned: int(scanned),
			PartitionsPruned:  int(pruned),
		}
		res.Stats.RowsScanned, _ = toInt64(stats["rows_scanned"])
		res.Stats.ExecutionTimeMs, _ = toInt64(stats["execution_time_ms"])
	}
	return res, nil
}

// wireValue converts a canonical row value into one structpb accepts.
func wireValue(v any) any {
	switch val := v.(type) {
	case int64:
		return strconv.FormatInt(val, 10)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return m
	case []string:
		return stringList(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func rowValue(column string, v any) (any, error) {
	switch column {
	case types.ColumnEventID, types.ColumnPlatform, types.ColumnType:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case types.ColumnProjectID, types.ColumnGroupID, types.ColumnTimestamp:
		return toInt64(v)
	case types.ColumnTags:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", v)
		}
		tags := make(map[string]string, len(m))
		for k, tv := range m {
			s, ok := tv.(string)
			if !ok {
				return nil, fmt.Errorf("tag %q: expected string, got %T", k, tv)
			}
			tags[k] = s
		}
		return tags, nil
	case types.ColumnPayload:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", v)
		}
		return m, nil
	default:
		return v, nil
	}
}

func stringList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func int64List(in []int64) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = strconv.FormatInt(v, 10)
	}
	return out
}

func toList(v any) ([]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return val, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}
}

func toStrings(v any) ([]string, error) {
	items, err := toList(v)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("item %d: expected string, got %T", i, item)
		}
		out[i] = s
	}
	return out, nil
}

func toInt64s(v any) ([]int64, error) {
	items, err := toList(v)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]int64, len(items))
	for i, item := range items {
		if out[i], err = toInt64(item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return out, nil
}

// toInt64 accepts the numeric shapes a Struct document can carry.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseInt(n, 10, 64)
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asText(v any) string {
	s, _ := v.(string)
	return s
}
