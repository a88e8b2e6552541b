// Package errors provides structured error types for the event store.
// All errors include a category, code, message, and retryable flag so that
// callers can tell validation failures apart from backend failures.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryBackend    ErrorCategory = "BACKEND"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryManifest   ErrorCategory = "MANIFEST"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeMissingProjectScope = "MISSING_PROJECT_SCOPE"
	CodeInvalidTimeRange    = "INVALID_TIME_RANGE"
	CodeInvalidEventID      = "INVALID_EVENT_ID"
	CodeInvalidFilter       = "INVALID_FILTER"
	CodeInvalidCursor       = "INVALID_CURSOR"

	// Backend codes
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeBackendTimeout     = "BACKEND_TIMEOUT"
	CodeQueryFailed        = "QUERY_FAILED"
	CodeMalformedRow       = "MALFORMED_ROW"

	// Storage codes
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Manifest codes
	CodePartitionNotFound = "PARTITION_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

// IsBackend reports whether err came from the query backend.
func IsBackend(err error) bool {
	return GetCategory(err) == ErrCategoryBackend
}

// IsUnavailable reports whether the backend could not be reached or timed out.
func IsUnavailable(err error) bool {
	code := GetCode(err)
	return GetCategory(err) == ErrCategoryBackend &&
		(code == CodeBackendUnavailable || code == CodeBackendTimeout)
}

// isRetryable reports which codes a caller may sensibly retry.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryBackend && code == CodeBackendUnavailable:
		return true
	case category == ErrCategoryBackend && code == CodeBackendTimeout:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *Error {
	return New(ErrCategoryValidation, code, message)
}

func NewBackendError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryBackend, code, message, cause)
}

func NewStorageError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewManifestError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// AsBackendError classifies an arbitrary failure from a backend call.
// BACKEND errors pass through unchanged. Deadlines become BACKEND_TIMEOUT;
// cancellation and storage failures become BACKEND_UNAVAILABLE; anything
// else is QUERY_FAILED.
func AsBackendError(message string, err error) error {
	if err == nil {
		return nil
	}
	if IsBackend(err) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewBackendError(CodeBackendTimeout, message, err)
	case errors.Is(err, context.Canceled):
		return NewBackendError(CodeBackendUnavailable, message, err)
	case GetCategory(err) == ErrCategoryStorage:
		return NewBackendError(CodeBackendUnavailable, message, err)
	default:
		return NewBackendError(CodeQueryFailed, message, err)
	}
}
