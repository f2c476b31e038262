// Package domain defines core types, interfaces, and errors for the
// pooled query service.
package domain

import (
	"fmt"
	"time"
)

// ErrorCategory classifies an engine execution error by best-effort
// pattern matching against the engine's error text.
type ErrorCategory string

// Execution error categories.
const (
	CategorySyntax           ErrorCategory = "SYNTAX_ERROR"
	CategoryTableNotFound    ErrorCategory = "TABLE_NOT_FOUND"
	CategoryColumnNotFound   ErrorCategory = "COLUMN_NOT_FOUND"
	CategoryTypeMismatch     ErrorCategory = "TYPE_MISMATCH"
	CategoryPermissionDenied ErrorCategory = "PERMISSION_DENIED"
	CategoryUnknown          ErrorCategory = "UNKNOWN"
)

// PoolExhaustedError indicates no handle could be acquired within the
// timeout. It is surfaced to the caller and never retried internally.
type PoolExhaustedError struct {
	Timeout time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted: no handle available after %s", e.Timeout)
}

// HandleCreationFailedError indicates the engine refused to create a new
// handle. Fatal for the acquire call that hit it; the pool stays usable.
type HandleCreationFailedError struct {
	Err error
}

func (e *HandleCreationFailedError) Error() string {
	return fmt.Sprintf("engine handle creation failed: %v", e.Err)
}

func (e *HandleCreationFailedError) Unwrap() error { return e.Err }

// PoolClosedError indicates an operation on a closed pool.
type PoolClosedError struct{}

func (e *PoolClosedError) Error() string { return "connection pool is closed" }

// ExecutionError wraps an engine execution failure with a category and a
// human-readable suggestion list so callers can render consistent guidance.
type ExecutionError struct {
	Category    ErrorCategory
	Message     string
	Suggestions []string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed (%s): %s", e.Category, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CancelledError indicates a streaming execution was cancelled at a chunk
// boundary before completing.
type CancelledError struct {
	QueryID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("query %s cancelled", e.QueryID)
}

// ValidationError indicates invalid caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
