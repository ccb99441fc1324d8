package manifest

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every parse and validation failure
var ErrInvalid = errors.New("manifest invalid")

// ValidationError names the manifest field that failed validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest invalid: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
