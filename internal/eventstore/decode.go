package eventstore

import (
	"fmt"
	"time"

	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
)

// decodeRows maps backend rows onto events, preserving their order.
func decodeRows(rows []query.Row, withPayload bool) ([]types.Event, error) {
	events := make([]types.Event, 0, len(rows))
	for i, row := range rows {
		e, err := decodeRow(row, withPayload)
		if err != nil {
			return nil, errors.NewBackendError(errors.CodeMalformedRow, fmt.Sprintf("row %d", i), err)
		}
		events = append(events, e)
	}
	return events, nil
}

// decodeRow maps one row. Columns outside the logical schema land in Extra
// untouched.
func decodeRow(row query.Row, withPayload bool) (types.Event, error) {
	var e types.Event
	var err error

	if e.EventID, err = stringColumn(row, types.ColumnEventID, true); err != nil {
		return e, err
	}
	if e.ProjectID, err = intColumn(row, types.ColumnProjectID, true); err != nil {
		return e, err
	}
	if e.GroupID, err = intColumn(row, types.ColumnGroupID, false); err != nil {
		return e, err
	}
	ts, err := intColumn(row, types.ColumnTimestamp, true)
	if err != nil {
		return e, err
	}
	e.Timestamp = time.Unix(ts, 0).UTC()
	if e.Platform, err = stringColumn(row, types.ColumnPlatform, false); err != nil {
		return e, err
	}
	if e.Type, err = stringColumn(row, types.ColumnType, false); err != nil {
		return e, err
	}

	if v, ok := row[types.ColumnTags]; ok && v != nil {
		tags, ok := v.(map[string]string)
		if !ok {
			return e, fmt.Errorf("column %s: unexpected type %T", types.ColumnTags, v)
		}
		e.Tags = make(map[string]string, len(tags))
		for k, val := range tags {
			e.Tags[k] = val
		}
	}

	if withPayload {
		var data map[string]any
		if v, ok := row[types.ColumnPayload]; ok && v != nil {
			data, ok = v.(map[string]any)
			if !ok {
				return e, fmt.Errorf("column %s: unexpected type %T", types.ColumnPayload, v)
			}
		}
		e = e.WithPayload(data)
	}

	for col, v := range row {
		if isSchemaColumn(col) {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[col] = v
	}
	return e, nil
}

func stringColumn(row query.Row, column string, required bool) (string, error) {
	v, ok := row[column]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("column %s is missing", column)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("column %s: unexpected type %T", column, v)
	}
	return s, nil
}

func intColumn(row query.Row, column string, required bool) (int64, error) {
	v, ok := row[column]
	if !ok || v == nil {
		if required {
			return 0, fmt.Errorf("column %s is missing", column)
		}
		return 0, nil
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("column %s: unexpected type %T", column, v)
	}
	return n, nil
}

func isSchemaColumn(column string) bool {
	for _, c := range query.AllColumns {
		if c == column {
			return true
		}
	}
	return false
}
