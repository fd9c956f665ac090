package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("image not found")
	ErrBusy              = errors.New("image is already being processed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidUpdate     = errors.New("update violates record invariants")
	ErrNotTransformed    = errors.New("image has not been transformed")
	ErrExportDisabled    = errors.New("export storage is not configured")
	ErrShuttingDown      = errors.New("service is shutting down")

	ErrDecode  = errors.New("decode failed")
	ErrEncode  = errors.New("encode failed")
	ErrTimeout = errors.New("transform timed out")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransformError reports an engine failure. Kind is one of ErrDecode,
// ErrEncode or ErrTimeout and is matched by errors.Is.
type TransformError struct {
	Kind error
	Err  error
}

func (e *TransformError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *TransformError) Is(target error) bool {
	return target == e.Kind
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

type PaymentError struct {
	Err error
}

func (e *PaymentError) Error() string {
	return "payment failed: " + e.Err.Error()
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}
