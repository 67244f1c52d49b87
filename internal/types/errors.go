package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for Moonshot framework errors.
type ErrorCode string

// Validation error codes
const (
	VALIDATION_FAILED ErrorCode = "VALIDATION_FAILED"
	SLUG_COLLISION    ErrorCode = "SLUG_COLLISION"
	OUT_OF_RANGE      ErrorCode = "OUT_OF_RANGE"
)

// Object store error codes
const (
	NOT_FOUND      ErrorCode = "NOT_FOUND"
	ALREADY_EXISTS ErrorCode = "ALREADY_EXISTS"
	IO_FAILED      ErrorCode = "IO_FAILED"
)

// Module registry error codes
const (
	MODULE_NOT_FOUND ErrorCode = "MODULE_NOT_FOUND"
	MODULE_INVALID   ErrorCode = "MODULE_INVALID"
)

// Connector error codes
const (
	CONNECTOR_TRANSIENT    ErrorCode = "CONNECTOR_TRANSIENT"
	CONNECTOR_REJECTED     ErrorCode = "CONNECTOR_REJECTED"
	CONNECTOR_TIMEOUT      ErrorCode = "CONNECTOR_TIMEOUT"
	CONNECTOR_RATE_LIMITED ErrorCode = "CONNECTOR_RATE_LIMITED"
)

// Database error codes
const (
	DB_OPEN_FAILED     ErrorCode = "DB_OPEN_FAILED"
	DB_QUERY_FAILED    ErrorCode = "DB_QUERY_FAILED"
	DB_SCHEMA_MISMATCH ErrorCode = "DB_SCHEMA_MISMATCH"
)

// Runner lifecycle error codes
const (
	RUNNER_BUSY       ErrorCode = "RUNNER_BUSY"
	RUN_CANCELLED     ErrorCode = "RUN_CANCELLED"
	CANCEL_TIMED_OUT  ErrorCode = "CANCEL_TIMED_OUT"
	RUN_FATAL         ErrorCode = "RUN_FATAL"
	CONFIG_INVALID    ErrorCode = "CONFIG_INVALID"
	CONFIG_LOAD_ERROR ErrorCode = "CONFIG_LOAD_ERROR"
)

// MoonshotError represents a structured error with error code, message, and
// optional cause. It supports error wrapping and retryability hints that the
// connector dispatcher consults when deciding whether to retry a call.
type MoonshotError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *MoonshotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *MoonshotError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
func (e *MoonshotError) Is(target error) bool {
	var msErr *MoonshotError
	if errors.As(target, &msErr) {
		return e.Code == msErr.Code
	}
	return false
}

// NewError creates a new non-retryable MoonshotError with the given code and message.
func NewError(code ErrorCode, message string) *MoonshotError {
	return &MoonshotError{Code: code, Message: message}
}

// NewRetryableError creates a new retryable MoonshotError. Use this for
// transient connector failures (network errors, 5xx, rate-limit responses)
// that may succeed on retry.
func NewRetryableError(code ErrorCode, message string) *MoonshotError {
	return &MoonshotError{Code: code, Message: message, Retryable: true}
}

// WrapError creates a new non-retryable MoonshotError that wraps an existing
// error. The wrapped error is accessible via Unwrap() for chain inspection.
func WrapError(code ErrorCode, message string, cause error) *MoonshotError {
	return &MoonshotError{Code: code, Message: message, Cause: cause}
}

// WrapRetryableError creates a retryable MoonshotError wrapping a cause.
func WrapRetryableError(code ErrorCode, message string, cause error) *MoonshotError {
	return &MoonshotError{Code: code, Message: message, Retryable: true, Cause: cause}
}

// IsRetryable reports whether err (or any error in its chain) is a
// MoonshotError marked retryable.
func IsRetryable(err error) bool {
	var msErr *MoonshotError
	if errors.As(err, &msErr) {
		return msErr.Retryable
	}
	return false
}

// CodeOf extracts the error code from err's chain, or "" when err is not a
// MoonshotError.
func CodeOf(err error) ErrorCode {
	var msErr *MoonshotError
	if errors.As(err, &msErr) {
		return msErr.Code
	}
	return ""
}

// IsCancelled reports whether err represents cooperative cancellation,
// either as a RUN_CANCELLED code or a context cancellation.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if CodeOf(err) == RUN_CANCELLED {
		return true
	}
	return errors.Is(err, context.Canceled)
}
