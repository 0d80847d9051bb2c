// Package errors provides domain-specific errors for the datasync engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common domain error conditions.
var (
	ErrOutOfRange             = errors.New("value out of range")
	ErrUnknownOperationKind   = errors.New("unknown operation kind")
	ErrEntityNotRegistered    = errors.New("entity type not registered")
	ErrEntityNotFound         = errors.New("entity not found")
	ErrMissingEntityID        = errors.New("entity id required")
	ErrInvalidQueryID         = errors.New("invalid query id")
	ErrInvalidQueueTransition = errors.New("invalid operation queue transition")
	ErrQueueRace              = errors.New("operation changed concurrently")
	ErrOperationNotFound      = errors.New("operation not found")
	ErrEndpointRequired       = errors.New("endpoint required")
)

// ErrorCode categorizes errors for handling and reporting.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "VALIDATION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeQueue         ErrorCode = "QUEUE"
	CodeTransport     ErrorCode = "TRANSPORT"
	CodeConflict      ErrorCode = "CONFLICT"
	CodeSerialization ErrorCode = "SERIALIZATION"
	CodeStorage       ErrorCode = "STORAGE"
	CodeConfiguration ErrorCode = "CONFIG"
)

// DatasyncError wraps errors with additional context for debugging and handling.
type DatasyncError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error returns a formatted error string including the code, message, and cause if present.
func (e *DatasyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for use with errors.Is and errors.As.
func (e *DatasyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DatasyncError with the given code, message, and optional cause.
func NewError(code ErrorCode, message string, cause error) *DatasyncError {
	return &DatasyncError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error's context and returns the error.
func WithContext(err *DatasyncError, key string, value interface{}) *DatasyncError {
	if err.Context == nil {
		err.Context = make(map[string]interface{})
	}
	err.Context[key] = value
	return err
}

// CodeOf returns the ErrorCode of the first DatasyncError in err's chain,
// or an empty code when there is none.
func CodeOf(err error) ErrorCode {
	var de *DatasyncError
	if errors.As(err, &de) {
		return de.Code
	}
	var qe *QueueError
	if errors.As(err, &qe) {
		return CodeQueue
	}
	return ""
}

// QueueError reports a local mutation that cannot be merged into the
// operation already queued for the same entity.
type QueueError struct {
	EntityType  string
	ItemID      string
	OriginalID  string
	Original    string // kind of the queued operation
	Conflicting string // kind of the rejected mutation
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("[%s] cannot apply %s to %s/%s: operation %s (%s) is already queued",
		CodeQueue, e.Conflicting, e.EntityType, e.ItemID, e.OriginalID, e.Original)
}

// Unwrap lets errors.Is match ErrInvalidQueueTransition.
func (e *QueueError) Unwrap() error {
	return ErrInvalidQueueTransition
}

// Is reports whether err matches target using errors.Is semantics.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target and sets target to that error value.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// OutOfRange builds a validation error for a numeric setting outside [min, max].
func OutOfRange(name string, value, min, max int) *DatasyncError {
	err := NewError(CodeValidation,
		fmt.Sprintf("%s must be between %d and %d, got %d", name, min, max, value),
		ErrOutOfRange)
	return WithContext(err, "setting", name)
}
