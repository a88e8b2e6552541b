package partition

import (
	"fmt"
	"strings"

	"github.com/arkilian/eventstore/pkg/types"
)

// ValidationError describes one invalid field of one event.
type ValidationError struct {
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %d, field %q: %s", e.Index, e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// ValidateEvents checks that every event can be stored: a well-formed id that
// is unique per project within the batch, a positive project id and a
// timestamp.
func ValidateEvents(events []types.Event) error {
	var errs ValidationErrors
	seen := make(map[string]int, len(events))

	for i, e := range events {
		id := types.NormalizeEventID(e.EventID)
		if !types.ValidEventID(id) {
			errs = append(errs, &ValidationError{Index: i, Field: types.ColumnEventID,
				Message: fmt.Sprintf("must be %d hex characters", types.EventIDLength)})
		} else {
			k := fmt.Sprintf("%d/%s", e.ProjectID, id)
			if first, dup := seen[k]; dup {
				errs = append(errs, &ValidationError{Index: i, Field: types.ColumnEventID,
					Message: fmt.Sprintf("duplicate of event %d", first)})
			} else {
				seen[k] = i
			}
		}
		if e.ProjectID <= 0 {
			errs = append(errs, &ValidationError{Index: i, Field: types.ColumnProjectID, Message: "must be positive"})
		}
		if e.Timestamp.IsZero() {
			errs = append(errs, &ValidationError{Index: i, Field: types.ColumnTimestamp, Message: "is required"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
