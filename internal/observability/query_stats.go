// Package observability tracks how the event store is queried: which filter
// keys and operators callers use, which tags they filter on, and how queries
// fare against the backend.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
)

// QueryStats tracks filter and tag key frequency plus execution totals.
type QueryStats struct {
	mu         sync.RWMutex
	filterFreq map[string]*FieldStats
	tagFreq    map[string]*FieldStats
	totals     Totals
	window     time.Duration
}

// FieldStats holds statistics for a filter field or tag key.
type FieldStats struct {
	Field     string
	Frequency int64
	LastSeen  time.Time
	Operators map[string]int // operator → count (e.g., "=" → 5, "IN" → 2)
}

// Totals aggregates execution outcomes since the tracker was created.
type Totals struct {
	Queries           int64
	Failures          int64
	SlowQueries       int64
	RowsReturned      int64
	PartitionsScanned int64
	PartitionsPruned  int64
}

// NewQueryStats creates a new query statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		filterFreq: make(map[string]*FieldStats),
		tagFreq:    make(map[string]*FieldStats),
		window:     window,
	}
}

// RecordQuery records every filter key a query uses.
func (s *QueryStats) RecordQuery(q *query.Query) {
	s.RecordFilter(types.ColumnProjectID, string(types.OpIn))
	if len(q.GroupIDs) > 0 {
		s.RecordFilter(types.ColumnGroupID, string(types.OpIn))
	}
	if len(q.EventIDs) > 0 {
		s.RecordFilter(types.ColumnEventID, string(types.OpIn))
	}
	if !q.Start.IsZero() {
		s.RecordFilter(types.ColumnTimestamp, ">=")
	}
	if !q.End.IsZero() {
		s.RecordFilter(types.ColumnTimestamp, "<")
	}
	for _, p := range q.Predicates {
		if p.Column == types.ColumnTags {
			s.RecordTagKey(p.Key, string(p.Op))
			continue
		}
		s.RecordFilter(p.Column, string(p.Op))
	}
}

// RecordFilter records a filter on a field with the given operator.
// This method is O(1) and thread-safe.
func (s *QueryStats) RecordFilter(field, operator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record(s.filterFreq, field, operator)
}

// RecordTagKey records a condition on a tag key.
// This method is O(1) and thread-safe.
func (s *QueryStats) RecordTagKey(key, operator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record(s.tagFreq, key, operator)
}

func record(m map[string]*FieldStats, field, operator string) {
	stats, exists := m[field]
	if !exists {
		stats = &FieldStats{
			Field:     field,
			Operators: make(map[string]int),
		}
		m[field] = stats
	}
	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Operators[operator]++
}

// RecordOutcome records the result of one backend call. res is nil when
// the call failed.
func (s *QueryStats) RecordOutcome(res *query.Result, slow bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totals.Queries++
	if slow {
		s.totals.SlowQueries++
	}
	if err != nil {
		s.totals.Failures++
		return
	}
	if res != nil {
		s.totals.RowsReturned += int64(len(res.Rows))
		s.totals.PartitionsScanned += int64(res.Stats.PartitionsScanned)
		s.totals.PartitionsPruned += int64(res.Stats.PartitionsPruned)
	}
}

// Totals returns a snapshot of the execution totals.
func (s *QueryStats) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}

// TopFilters returns the top N filter fields by frequency.
func (s *QueryStats) TopFilters(n int) []FieldStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.filterFreq, n)
}

// TopTagKeys returns the top N tag keys by frequency.
func (s *QueryStats) TopTagKeys(n int) []FieldStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.tagFreq, n)
}

// top returns deep copies sorted by frequency descending, ties by name.
func top(m map[string]*FieldStats, n int) []FieldStats {
	if n <= 0 || len(m) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(m))
	for _, fs := range m {
		cp := FieldStats{
			Field:     fs.Field,
			Frequency: fs.Frequency,
			LastSeen:  fs.LastSeen,
			Operators: make(map[string]int, len(fs.Operators)),
		}
		for op, count := range fs.Operators {
			cp.Operators[op] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries not seen within the window.
// This should be called periodically (e.g., every 5 minutes).
func (s *QueryStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for field, fs := range s.filterFreq {
		if fs.LastSeen.Before(threshold) {
			delete(s.filterFreq, field)
		}
	}
	for key, fs := range s.tagFreq {
		if fs.LastSeen.Before(threshold) {
			delete(s.tagFreq, key)
		}
	}
}
