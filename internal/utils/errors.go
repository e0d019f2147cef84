package utils

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ValidationError reports input rejected at an API boundary before any
// mutation was attempted.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the error message string, prefixed with the field when set.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError creates a new ValidationError for a field.
//
// Parameters:
//   - field: The offending input field, may be empty.
//   - message: The validation error message.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
func NewValidationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RequireNonEmpty returns a ValidationError when value is blank.
func RequireNonEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewValidationError(field, "must not be empty")
	}
	return nil
}

// RequireFinite returns a ValidationError when value is NaN or infinite.
func RequireFinite(field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NewValidationErrorf(field, "must be a finite number, got %v", value)
	}
	return nil
}
