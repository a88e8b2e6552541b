package eventstore

import (
	"fmt"

	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/pkg/types"
)

// validate rejects specs that must never reach a backend.
func validate(spec *types.FilterSpec) error {
	if !spec.HasProjectScope() {
		return errors.Wrap(errors.ErrCategoryValidation, errors.CodeMissingProjectScope, "invalid filter", types.ErrMissingProjectScope)
	}
	for _, id := range spec.ProjectIDs {
		if id <= 0 {
			return errors.NewValidationError(errors.CodeMissingProjectScope,
				fmt.Sprintf("invalid project id %d", id))
		}
	}
	if !spec.Start.IsZero() && !spec.End.IsZero() && spec.Start.After(spec.End) {
		return errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidTimeRange, "invalid filter", types.ErrInvalidTimeRange)
	}
	for _, id := range spec.EventIDs {
		if err := validateEventID(id); err != nil {
			return err
		}
	}
	return nil
}

func validateEventID(id string) error {
	if !types.ValidEventID(types.NormalizeEventID(id)) {
		return errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidEventID,
			fmt.Sprintf("event id %q", id), types.ErrInvalidEventID)
	}
	return nil
}
