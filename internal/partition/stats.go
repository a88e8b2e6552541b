package partition

import "github.com/arkilian/eventstore/pkg/types"

// MinMax is an inclusive integer range.
type MinMax struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// StatsTracker accumulates column ranges while a partition is built.
type StatsTracker struct {
	rowCount int64
	ranges   map[string]*MinMax
}

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{ranges: make(map[string]*MinMax)}
}

// Update folds one event into the ranges.
func (s *StatsTracker) Update(e types.Event) {
	s.rowCount++
	s.observe(types.ColumnProjectID, e.ProjectID)
	s.observe(types.ColumnGroupID, e.GroupID)
	s.observe(types.ColumnTimestamp, e.Timestamp.Unix())
}

func (s *StatsTracker) observe(column string, v int64) {
	r, ok := s.ranges[column]
	if !ok {
		s.ranges[column] = &MinMax{Min: v, Max: v}
		return
	}
	if v < r.Min {
		r.Min = v
	}
	if v > r.Max {
		r.Max = v
	}
}

// Range returns the observed range of a column.
func (s *StatsTracker) Range(column string) (MinMax, bool) {
	r, ok := s.ranges[column]
	if !ok {
		return MinMax{}, false
	}
	return *r, true
}

// RowCount returns the number of events tracked.
func (s *StatsTracker) RowCount() int64 {
	return s.rowCount
}
