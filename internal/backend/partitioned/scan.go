package partitioned

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
	"github.com/golang/snappy"
)

// snappyDecodeBufPool provides reusable destination buffers for payload decoding.
var snappyDecodeBufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// scanRows reads every row of a partition result into canonical rows.
func scanRows(rows *sql.Rows, partitionID string) ([]query.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("partitioned: failed to read columns: %w", err)
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	bufPtr := snappyDecodeBufPool.Get().(*[]byte)
	defer snappyDecodeBufPool.Put(bufPtr)

	var out []query.Row
	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("partitioned: failed to scan row: %w", err)
		}
		row := make(query.Row, len(columns))
		for i, col := range columns {
			v, err := decodeValue(col, values[i], bufPtr)
			if err != nil {
				return nil, errors.NewBackendError(errors.CodeMalformedRow,
					fmt.Sprintf("partition %s: column %s", partitionID, col), err)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partitioned: error iterating rows: %w", err)
	}
	return out, nil
}

// decodeValue converts a raw SQLite value into its canonical row type.
func decodeValue(column string, raw interface{}, bufPtr *[]byte) (interface{}, error) {
	switch column {
	case types.ColumnEventID, types.ColumnPlatform, types.ColumnType:
		return asString(raw)

	case types.ColumnProjectID, types.ColumnGroupID, types.ColumnTimestamp:
		v, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}
		return v, nil

	case types.ColumnTags:
		encoded, err := asString(raw)
		if err != nil {
			return nil, err
		}
		tags := map[string]string{}
		if err := json.Unmarshal([]byte(encoded), &tags); err != nil {
			return nil, fmt.Errorf("invalid tags: %w", err)
		}
		return tags, nil

	case types.ColumnPayload:
		compressed, ok := raw.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected blob, got %T", raw)
		}
		decoded, err := snappy.Decode((*bufPtr)[:cap(*bufPtr)], compressed)
		if err != nil {
			return nil, fmt.Errorf("snappy decode: %w", err)
		}
		// Keep the larger buffer for the next row.
		if cap(decoded) > cap(*bufPtr) {
			*bufPtr = decoded[:0]
		}
		payload := map[string]any{}
		if err := json.Unmarshal(decoded, &payload); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		return payload, nil

	default:
		// Columns this version does not know pass through untouched.
		if b, ok := raw.([]byte); ok {
			return append([]byte(nil), b...), nil
		}
		return raw, nil
	}
}

func asString(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("expected text, got %T", raw)
	}
}
