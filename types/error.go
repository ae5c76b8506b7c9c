package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the subsystem.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeBudget       ErrorCode = "BUDGET_EXCEEDED"
	ErrCodePersistence  ErrorCode = "PERSISTENCE_FAULT"
	ErrCodeTierConflict ErrorCode = "TIER_CONFLICT"
	ErrCodeClosed       ErrorCode = "STORE_CLOSED"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Sentinel errors for routine conditions. Absence of a path is routine
// and reported with ErrNotFound, never a panic.
var (
	ErrNotFound    = errors.New("not found")
	ErrStoreClosed = errors.New("store closed")
	// ErrTierConflict reports an item claimed authoritative in two
	// tiers at once. This is an invariant violation, fatal to the
	// affected operation.
	ErrTierConflict = errors.New("item authoritative in multiple tiers")
)

// Error is a structured error with code, message, and cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Cause   error     `json:"-"`
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

// WithPath attaches the affected knowledge-item path.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}
