// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation     = errors.New("validation error")
	ErrInvalidJobSpec = errors.New("invalid job spec")
	ErrInvalidRuleSet = errors.New("invalid rule set")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "commands", "devices")
	Resource string // For not found/conflict (e.g., "job")
	Index    int    // Offending rule position for rule set errors, -1 otherwise
	Op       string // Operation that failed (e.g., "artifact.put")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
		Index:    -1,
	}
}

// InvalidJobSpec reports a job request that must never be dispatched.
func InvalidJobSpec(field, message string) error {
	return &Error{
		Sentinel: ErrInvalidJobSpec,
		Message:  fmt.Sprintf("invalid job spec: %s", message),
		Field:    field,
		Index:    -1,
	}
}

// InvalidRuleSet reports the first rule whose pattern fails to compile.
func InvalidRuleSet(index int, pattern string, cause error) error {
	return &Error{
		Sentinel: ErrInvalidRuleSet,
		Message:  fmt.Sprintf("rule %d: invalid pattern %q: %v", index, pattern, cause),
		Field:    "pattern",
		Index:    index,
		Cause:    cause,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
		Index:    -1,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  fmt.Sprintf("%s %s: %s", resource, id, reason),
		Resource: resource,
		Index:    -1,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Index:    -1,
		Cause:    cause,
	}
}
