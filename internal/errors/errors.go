// Package errors provides structured error types for kvbench.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryWrite      ErrorCategory = "WRITE"
	ErrCategoryVerify     ErrorCategory = "VERIFY"
	ErrCategoryBackend    ErrorCategory = "BACKEND"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeDatasetNotInitialized = "DATASET_NOT_INITIALIZED"
	CodeEmptyBatch            = "EMPTY_BATCH"
	CodeUnknownStrategy       = "UNKNOWN_STRATEGY"
	CodeUnknownSerializer     = "UNKNOWN_SERIALIZER"

	// Write codes
	CodeWriteRejected   = "WRITE_REJECTED"
	CodePipelineAborted = "PIPELINE_ABORTED"

	// Verify codes
	CodeMissingRecord   = "MISSING_RECORD"
	CodeCardinality     = "CARDINALITY_MISMATCH"
	CodeLengthMismatch  = "LENGTH_MISMATCH"
	CodeContentMismatch = "CONTENT_MISMATCH"

	// Backend codes
	CodeKeyNotFound      = "KEY_NOT_FOUND"
	CodeConnectionFailed = "CONNECTION_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// BenchError is the structured error type used throughout the system.
type BenchError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *BenchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BenchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BenchError) Is(target error) bool {
	var t *BenchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BenchError.
func New(category ErrorCategory, code, message string) *BenchError {
	return &BenchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new BenchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BenchError {
	return &BenchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *BenchError) WithDetails(details map[string]interface{}) *BenchError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// The core never retries on its own; the flag lets callers layer a
// retry policy on top.
func IsRetryable(err error) bool {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCategory(err error) ErrorCategory {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCode(err error) string {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// isRetryable determines if an error code marks a transient condition.
// Verification mismatches and precondition violations are never retryable:
// they signal a correctness bug, not a transient fault.
func isRetryable(category ErrorCategory, code string) bool {
	return category == ErrCategoryBackend && code == CodeConnectionFailed
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *BenchError {
	return New(ErrCategoryValidation, code, message)
}

func NewWriteError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryWrite, code, message, cause)
}

func NewVerifyError(code, message string) *BenchError {
	return New(ErrCategoryVerify, code, message)
}

func NewBackendError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryBackend, code, message, cause)
}

func NewInternalError(message string, cause error) *BenchError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
