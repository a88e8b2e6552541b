package query

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/pkg/types"
)

// EncodeCursor renders a keyset as an opaque page cursor.
func EncodeCursor(ks Keyset) string {
	raw := strconv.FormatInt(ks.Timestamp, 10) + ":" + ks.EventID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (Keyset, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return Keyset{}, errors.NewValidationError(errors.CodeInvalidCursor, "cursor is not valid base64")
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Keyset{}, errors.NewValidationError(errors.CodeInvalidCursor, "malformed cursor")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Keyset{}, errors.NewValidationError(errors.CodeInvalidCursor,
			fmt.Sprintf("malformed cursor timestamp %q", ts))
	}
	if !types.ValidEventID(id) {
		return Keyset{}, errors.NewValidationError(errors.CodeInvalidCursor, "malformed cursor event id")
	}
	return Keyset{Timestamp: sec, EventID: id}, nil
}

// Admits reports whether row sorts strictly after the keyset under the
// default ordering.
func (ks Keyset) Admits(row Row) bool {
	ts, _ := row[types.ColumnTimestamp].(int64)
	id, _ := row[types.ColumnEventID].(string)
	if ts != ks.Timestamp {
		return ts < ks.Timestamp
	}
	return id > ks.EventID
}
