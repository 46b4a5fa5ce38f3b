// Package apperr defines the error taxonomy shared across the occupancy core.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a referenced entity as absent. Never retried.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation that would violate a uniqueness
	// invariant, such as a second open occupancy record for one cell.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports invalid caller input. It is always surfaced to the
// caller and never retried internally.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for the given field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
