package validation

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrMissingField indicates a required field that is absent or nil.
	ErrMissingField = errors.New("missing field")
	// ErrTypeMismatch indicates a field whose value has the wrong type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrOutOfRange indicates a numeric field outside its bounds.
	ErrOutOfRange = errors.New("out of range")
	// ErrInvalidEnum indicates a field whose value is not one of the allowed values.
	ErrInvalidEnum = errors.New("invalid enum value")
)

// FieldError describes the first rule a record violated.
type FieldError struct {
	Field    string
	Kind     error
	Expected ValueType
	Bound    float64
	Allowed  []any
}

func (e *FieldError) Error() string {
	switch e.Kind {
	case ErrTypeMismatch:
		return fmt.Sprintf("%s: %s must be %s", e.Kind, e.Field, e.Expected)
	case ErrOutOfRange:
		return fmt.Sprintf("%s: %s violates bound %s", e.Kind, e.Field, strconv.FormatFloat(e.Bound, 'f', -1, 64))
	case ErrInvalidEnum:
		return fmt.Sprintf("%s: %s must be one of %v", e.Kind, e.Field, e.Allowed)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	}
}

// Unwrap exposes the failure kind to errors.Is.
func (e *FieldError) Unwrap() error {
	return e.Kind
}
