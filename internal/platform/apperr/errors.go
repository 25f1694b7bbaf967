// Package apperr defines the error taxonomy shared by the monitoring
// services. Every error a service returns either wraps one of the sentinel
// kinds below or is treated as an internal failure by the transport layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInternal         = errors.New("internal error")
)

// ValidationError reports malformed or out-of-range input on a single field.
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

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a referenced resource that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Validation returns a *ValidationError for field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFound returns a *NotFoundError for the given resource kind and id.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// Denied wraps ErrPermissionDenied with a caller-facing reason.
func Denied(reason string) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, reason)
}

// Internal wraps a storage or infrastructure failure. The original error is
// kept in the chain for logging; it is never shown to the caller.
func Internal(op string, err error) error {
	return &internalError{op: op, err: err}
}

type internalError struct {
	op  string
	err error
}

func (e *internalError) Error() string { return e.op + ": " + e.err.Error() }

func (e *internalError) Unwrap() []error { return []error{ErrInternal, e.err} }

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }
