// Package errors defines the stable error taxonomy for the indexing engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ParseFailure indicates a source file could not be parsed (per-file, recoverable)
	ParseFailure ErrorCode = "PARSE_FAILURE"
	// DiffFailure indicates revision lookup or diff computation failed (run-fatal)
	DiffFailure ErrorCode = "DIFF_FAILURE"
	// StoreIOFailure indicates a persistent store read or write failed
	StoreIOFailure ErrorCode = "STORE_IO_FAILURE"
	// GenerationFailure indicates the artifact generation service failed (per-endpoint, recoverable)
	GenerationFailure ErrorCode = "GENERATION_FAILURE"
	// CleanupFailure indicates a directory or artifact could not be removed
	CleanupFailure ErrorCode = "CLEANUP_FAILURE"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FlowError represents an engine error with a stable code and an optional cause.
type FlowError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

// New creates a new FlowError
func New(code ErrorCode, message string, cause error) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *FlowError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *FlowError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *FlowError) WithDetails(details interface{}) *FlowError {
	e.Details = details
	return e
}

// CodeOf returns the error code of err, or InternalError if err carries none.
func CodeOf(err error) ErrorCode {
	var fe *FlowError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
