package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Ingest error codes
const (
	ErrParse           ErrorCode = "PARSE_ERROR"
	ErrInvalidSpec     ErrorCode = "INVALID_SPEC"
	ErrIndexCorruption ErrorCode = "INDEX_CORRUPTION"
)

// Query error codes
const (
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSource sets the source URI the error originated from.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsParseError reports whether err is a per-source parse failure.
// Parse failures are isolated to their source and never abort a batch.
func IsParseError(err error) bool {
	return GetErrorCode(err) == ErrParse
}

// IsIndexCorruption reports whether err indicates index/store corruption.
// Corruption is fatal and requires a full re-ingest.
func IsIndexCorruption(err error) bool {
	return GetErrorCode(err) == ErrIndexCorruption
}

// IsProviderUnavailable reports whether err is a provider failure that the
// engine should degrade around. Timeouts count as provider unavailability.
func IsProviderUnavailable(err error) bool {
	code := GetErrorCode(err)
	return code == ErrProviderUnavailable || code == ErrTimeout
}
