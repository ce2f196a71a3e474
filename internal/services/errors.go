package services

import apperrors "etlpulse/internal/errors"

// Service errors. Compare with errors.Is.
var (
	// ErrEmptySource is returned when a run request carries no CSV content
	ErrEmptySource = apperrors.NewAppError(apperrors.ErrTypeValidation, "no CSV content supplied", nil)

	// ErrRunEvicted is returned when a run's table is no longer held in
	// memory. Its record, flow and summary remain available.
	ErrRunEvicted = apperrors.NewAppError(apperrors.ErrTypeNotFound, "run data is no longer retained; re-run the pipeline to export or chart it", nil)
)
