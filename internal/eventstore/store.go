// Package eventstore is the read-only query layer over the event backend.
//
// An EventStore validates filter specs, builds canonical queries, dispatches
// them to a Backend and decodes the rows into immutable events. It holds no
// state of its own between calls and is safe for concurrent use.
package eventstore

import (
	"context"
	"log"
	"time"

	"github.com/arkilian/eventstore/internal/backend"
	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/internal/observability"
	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
)

// Options configures an EventStore.
type Options struct {
	// DefaultLimit applies when a spec has no limit (default: 100)
	DefaultLimit int
	// MaxLimit caps any requested limit (default: 1000)
	MaxLimit int
	// Timeout bounds each backend call (0 = only the caller's context)
	Timeout time.Duration
	// SlowQueryThreshold logs queries slower than this (0 = disabled)
	SlowQueryThreshold time.Duration
	// Stats receives filter usage and outcomes when set
	Stats *observability.QueryStats
}

// EventStore executes event queries against a backend.
type EventStore struct {
	backend backend.Backend
	opts    Options
}

// Page is one page of GetEventsPage. NextCursor is empty on the last page.
type Page struct {
	Events     []types.Event
	NextCursor string
}

// New creates an EventStore over b.
func New(b backend.Backend, opts Options) *EventStore {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = query.DefaultMaxLimit
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = query.DefaultLimit
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	return &EventStore{backend: b, opts: opts}
}

// GetEventByID returns the event, or nil when the project has no such event.
func (s *EventStore) GetEventByID(ctx context.Context, projectID int64, eventID string) (*types.Event, error) {
	if projectID <= 0 {
		return nil, errors.NewValidationError(errors.CodeMissingProjectScope, "project id is required")
	}
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}

	spec := types.FilterSpec{
		ProjectIDs: []int64{projectID},
		EventIDs:   []string{eventID},
		Limit:      1,
	}
	events, _, err := s.run(ctx, spec, s.buildOptions(false))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// GetEvents returns the events matching spec in the requested order. A
// query without matches returns an empty slice.
func (s *EventStore) GetEvents(ctx context.Context, spec types.FilterSpec) ([]types.Event, error) {
	events, _, err := s.run(ctx, spec, s.buildOptions(false))
	return events, err
}

// GetUnfetchedEvents is GetEvents without the payload column. The returned
// events have a nil Data; see BindPayloads.
func (s *EventStore) GetUnfetchedEvents(ctx context.Context, spec types.FilterSpec) ([]types.Event, error) {
	events, _, err := s.run(ctx, spec, s.buildOptions(true))
	return events, err
}

// GetEventsPage returns one page of events and a cursor for the next one.
// A cursor is only produced under the default ordering without an offset.
func (s *EventStore) GetEventsPage(ctx context.Context, spec types.FilterSpec) (*Page, error) {
	events, q, err := s.run(ctx, spec, s.buildOptions(false))
	if err != nil {
		return nil, err
	}
	page := &Page{Events: events}
	if len(events) == q.Limit && q.Offset == 0 && query.IsDefaultOrdering(q.OrderBy) {
		last := events[len(events)-1]
		page.NextCursor = query.EncodeCursor(query.Keyset{
			Timestamp: last.Timestamp.Unix(),
			EventID:   last.EventID,
		})
	}
	return page, nil
}

// GetEventsByIDs looks up many events of one project with a single query.
// Ids without an event are absent from the result; the order follows the
// default ordering.
func (s *EventStore) GetEventsByIDs(ctx context.Context, projectID int64, eventIDs []string) ([]types.Event, error) {
	if projectID <= 0 {
		return nil, errors.NewValidationError(errors.CodeMissingProjectScope, "project id is required")
	}
	if len(eventIDs) == 0 {
		return []types.Event{}, nil
	}
	return s.lookup(ctx, projectID, eventIDs)
}

// BindPayloads returns copies of events with their payloads loaded, issuing
// one query per project. Events that already carry a payload are copied as
// they are, and so are events the backend no longer returns. The input
// slice is not modified.
func (s *EventStore) BindPayloads(ctx context.Context, events []types.Event) ([]types.Event, error) {
	out := make([]types.Event, len(events))
	copy(out, events)

	byProject := make(map[int64][]string)
	var projects []int64
	for i := range out {
		if out[i].PayloadLoaded() {
			continue
		}
		p := out[i].ProjectID
		if _, ok := byProject[p]; !ok {
			projects = append(projects, p)
		}
		byProject[p] = append(byProject[p], out[i].EventID)
	}

	for _, p := range projects {
		if p <= 0 {
			return nil, errors.NewValidationError(errors.CodeMissingProjectScope, "event without project id")
		}
		loaded, err := s.lookup(ctx, p, byProject[p])
		if err != nil {
			return nil, err
		}
		payloads := make(map[string]map[string]any, len(loaded))
		for _, e := range loaded {
			payloads[e.EventID] = e.Data
		}
		for i := range out {
			if out[i].ProjectID != p || out[i].PayloadLoaded() {
				continue
			}
			if data, ok := payloads[types.NormalizeEventID(out[i].EventID)]; ok {
				out[i] = out[i].WithPayload(data)
			}
		}
	}
	return out, nil
}

// lookup fetches events by id. The limit covers every requested id, even
// above the configured maximum, since a point lookup is bounded by its ids.
func (s *EventStore) lookup(ctx context.Context, projectID int64, eventIDs []string) ([]types.Event, error) {
	seen := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		if err := validateEventID(id); err != nil {
			return nil, err
		}
		seen[types.NormalizeEventID(id)] = true
	}
	opts := query.Options{
		DefaultLimit: len(seen),
		MaxLimit:     len(seen),
	}
	spec := types.FilterSpec{ProjectIDs: []int64{projectID}, EventIDs: eventIDs}
	events, _, err := s.run(ctx, spec, opts)
	return events, err
}

func (s *EventStore) buildOptions(excludePayload bool) query.Options {
	return query.Options{
		DefaultLimit:   s.opts.DefaultLimit,
		MaxLimit:       s.opts.MaxLimit,
		ExcludePayload: excludePayload,
	}
}

// run validates spec, executes it and decodes the rows. Backend failures are
// classified and returned; nothing is retried.
func (s *EventStore) run(ctx context.Context, spec types.FilterSpec, opts query.Options) ([]types.Event, *query.Query, error) {
	if err := validate(&spec); err != nil {
		return nil, nil, err
	}
	q, err := query.Build(spec, opts)
	if err != nil {
		return nil, nil, err
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.backend.Execute(ctx, q)
	elapsed := time.Since(start)
	slow := s.opts.SlowQueryThreshold > 0 && elapsed > s.opts.SlowQueryThreshold

	if s.opts.Stats != nil {
		s.opts.Stats.RecordQuery(q)
		s.opts.Stats.RecordOutcome(res, slow, err)
	}

	if err != nil {
		err = errors.AsBackendError("event query failed", err)
		log.Printf("eventstore: query %s failed after %s: %v", query.Fingerprint(q), elapsed, err)
		return nil, nil, err
	}
	if res == nil {
		return []types.Event{}, q, nil
	}
	if slow {
		log.Printf("eventstore: slow query %s took %s (rows=%d, partitions scanned=%d, pruned=%d)",
			query.Fingerprint(q), elapsed, len(res.Rows), res.Stats.PartitionsScanned, res.Stats.PartitionsPruned)
	}

	events, err := decodeRows(res.Rows, q.HasColumn(types.ColumnPayload))
	if err != nil {
		log.Printf("eventstore: query %s returned a malformed row: %v", query.Fingerprint(q), err)
		return nil, nil, err
	}
	return events, q, nil
}
