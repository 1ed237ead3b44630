// Package errors defines the error taxonomy shared by the primary and secondary services.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeQueryNotFound  ErrorCode = "QUERY_NOT_FOUND"
	ErrorCodeStorage        ErrorCode = "STORAGE_ERROR"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"
)

// ValidationError is returned when caller input is malformed.
// It is raised before any write is attempted.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InvalidField creates a ValidationError for a single field.
func InvalidField(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StorageError represents a fault in the local record store.
// It is fatal for the operation: nothing is forwarded.
type StorageError struct {
	Op    string
	Cause error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage %s failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("storage %s failed", e.Op)
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Storage wraps a store fault for the given operation.
func Storage(op string, cause error) *StorageError {
	return &StorageError{Op: op, Cause: cause}
}

// FailureKind narrows a ForwardFailure down to its cause.
type FailureKind string

const (
	// FailureConnection covers refused connections, DNS failures and resets
	FailureConnection FailureKind = "connection"
	// FailureTimeout covers calls that exceeded the forward timeout
	FailureTimeout FailureKind = "timeout"
	// FailureStatus covers non-success HTTP statuses from the secondary
	FailureStatus FailureKind = "status"
	// FailureMalformedResponse covers success statuses whose body could not be decoded
	FailureMalformedResponse FailureKind = "malformed_response"
	// FailureQueued marks a delete held back until the record's pending create
	// reaches the secondary
	FailureQueued FailureKind = "queued"
)

// ForwardFailure is returned when replaying an operation on the secondary fails.
// The local commit is never rolled back because of it.
type ForwardFailure struct {
	Operation  string
	Kind       FailureKind
	StatusCode int
	Cause      error
}

// Error implements the error interface
func (e *ForwardFailure) Error() string {
	msg := fmt.Sprintf("forward %s failed (%s)", e.Operation, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ForwardFailure) Unwrap() error {
	return e.Cause
}

// Unexpected reports whether the failure is not ordinary unavailability.
func (e *ForwardFailure) Unexpected() bool {
	return e.Kind == FailureMalformedResponse
}

// ClassifyTransport builds a ForwardFailure from an error returned by the HTTP transport.
func ClassifyTransport(operation string, err error) *ForwardFailure {
	kind := FailureConnection
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		kind = FailureTimeout
	}
	return &ForwardFailure{Operation: operation, Kind: kind, Cause: err}
}

// UnexpectedStatus builds a ForwardFailure for a non-success status code.
func UnexpectedStatus(operation string, statusCode int) *ForwardFailure {
	return &ForwardFailure{Operation: operation, Kind: FailureStatus, StatusCode: statusCode}
}

// MalformedResponse builds a ForwardFailure for a body that could not be decoded.
func MalformedResponse(operation string, statusCode int, cause error) *ForwardFailure {
	return &ForwardFailure{Operation: operation, Kind: FailureMalformedResponse, StatusCode: statusCode, Cause: cause}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return stderrors.As(err, &ve)
}

// IsStorage reports whether err is or wraps a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// AsForwardFailure extracts a ForwardFailure from err.
func AsForwardFailure(err error) (*ForwardFailure, bool) {
	var ff *ForwardFailure
	if stderrors.As(err, &ff) {
		return ff, true
	}
	return nil, false
}
