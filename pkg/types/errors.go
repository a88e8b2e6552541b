package types

import "errors"

// Filter-related errors
var (
	// ErrMissingProjectScope is returned when a filter names no project
	ErrMissingProjectScope = errors.New("filter must include at least one project_id")
	// ErrInvalidTimeRange is returned when start is after end
	ErrInvalidTimeRange = errors.New("filter start must not be after end")
	// ErrInvalidEventID is returned for malformed event identifiers
	ErrInvalidEventID = errors.New("invalid event id")
)
