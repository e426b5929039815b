// Package errors provides structured error types for the shipper.
// Every error carries a category, a code, a message and a retryable flag so the
// sync loop can decide between "log and retry next tick" and "stop the process".
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the component that raised them.
type ErrorCategory string

const (
	ErrCategoryStore        ErrorCategory = "STORE"
	ErrCategoryConnectivity ErrorCategory = "CONNECTIVITY"
	ErrCategoryTransmission ErrorCategory = "TRANSMISSION"
	ErrCategoryMalformed    ErrorCategory = "MALFORMED"
	ErrCategoryConfig       ErrorCategory = "CONFIG"
	ErrCategoryInternal     ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Store codes
	CodeOpenFailed   = "OPEN_FAILED"
	CodeSchemaFailed = "SCHEMA_FAILED"
	CodeWriteFailed  = "WRITE_FAILED"
	CodeReadFailed   = "READ_FAILED"

	// Connectivity codes
	CodeProbeFailed = "PROBE_FAILED"

	// Transmission codes
	CodeRequestFailed = "REQUEST_FAILED"
	CodeRejected      = "REJECTED"

	// Malformed record codes
	CodeEncodeFailed      = "ENCODE_FAILED"
	CodeAttachmentMissing = "ATTACHMENT_MISSING"

	// Config codes
	CodeInvalidConfig = "INVALID"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// ShipError is the structured error type used throughout the shipper.
type ShipError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ShipError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ShipError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ShipError) Is(target error) bool {
	var t *ShipError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ShipError.
func New(category ErrorCategory, code, message string) *ShipError {
	return &ShipError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ShipError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ShipError {
	return &ShipError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ShipError) WithDetails(details map[string]interface{}) *ShipError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *ShipError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal reports whether the error must stop the process. Only a store whose
// schema cannot be created and an invalid configuration qualify.
func IsFatal(err error) bool {
	var se *ShipError
	if !errors.As(err, &se) {
		return false
	}
	return (se.Category == ErrCategoryStore && se.Code == CodeSchemaFailed) ||
		se.Category == ErrCategoryConfig
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ShipError.
func GetCategory(err error) ErrorCategory {
	var se *ShipError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ShipError.
func GetCode(err error) string {
	var se *ShipError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable marks the failures that go away on a later tick without operator action.
// A malformed record is retried forever as well, but it is not expected to heal.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStore && code == CodeOpenFailed:
		return true
	case category == ErrCategoryStore && code == CodeWriteFailed:
		return true
	case category == ErrCategoryStore && code == CodeReadFailed:
		return true
	case category == ErrCategoryTransmission:
		return true
	case category == ErrCategoryConnectivity:
		return true
	case category == ErrCategoryMalformed && code == CodeAttachmentMissing:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewStoreError(code, message string, cause error) *ShipError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewConnectivityError(message string, cause error) *ShipError {
	return Wrap(ErrCategoryConnectivity, CodeProbeFailed, message, cause)
}

func NewTransmissionError(code, message string, cause error) *ShipError {
	return Wrap(ErrCategoryTransmission, code, message, cause)
}

func NewMalformedError(code, message string, cause error) *ShipError {
	return Wrap(ErrCategoryMalformed, code, message, cause)
}

func NewConfigError(message string) *ShipError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *ShipError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
