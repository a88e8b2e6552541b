// Package types provides the core data types shared by the event store and its backends.
package types

import (
	"strings"
	"time"
)

// EventIDLength is the length of a hex-encoded event identifier.
const EventIDLength = 32

// Event is one captured error or transaction occurrence.
// Events are append-only: once ingested they are never mutated.
type Event struct {
	// EventID is the 32-character lowercase hex identifier, unique within a project
	EventID string `json:"event_id"`
	// ProjectID scopes the event
	ProjectID int64 `json:"project_id"`
	// GroupID is the fingerprint group the event was assigned to (0 when ungrouped)
	GroupID int64 `json:"group_id"`
	// Timestamp is when the event occurred, UTC with second precision
	Timestamp time.Time `json:"timestamp"`
	// Platform is the SDK platform (e.g. "python")
	Platform string `json:"platform"`
	// Type is the event type (e.g. "default", "error", "transaction")
	Type string `json:"type"`
	// Tags holds indexed key/value tags
	Tags map[string]string `json:"tags,omitempty"`
	// Data is the type-specific payload. Nil for events fetched without payload.
	Data map[string]any `json:"data,omitempty"`
	// Extra carries row columns this version does not know about
	Extra map[string]any `json:"extra,omitempty"`

	payloadLoaded bool
}

// PayloadLoaded reports whether Data was read from the backend.
func (e *Event) PayloadLoaded() bool {
	return e.payloadLoaded
}

// WithPayload returns a copy of the event carrying the given payload.
func (e Event) WithPayload(data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	e.Data = data
	e.payloadLoaded = true
	return e
}

// Tag returns the value of a tag and whether it is set.
func (e *Event) Tag(key string) (string, bool) {
	v, ok := e.Tags[key]
	return v, ok
}

// ValidEventID reports whether id is a well-formed event identifier.
func ValidEventID(id string) bool {
	if len(id) != EventIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// NormalizeEventID lowercases id and strips UUID dashes so that
// "AAAAAAAA-AAAA-..." and "aaaaaaaaaaaa..." address the same event.
func NormalizeEventID(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", ""))
}
