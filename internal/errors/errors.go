// Package errors provides error code definitions for the sync engine.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to callers.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrPermission ErrorCode = "PERMISSION_DENIED"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Entity errors
	ErrEntityNotFound    ErrorCode = "ENTITY_NOT_FOUND"
	ErrInvalidEntityType ErrorCode = "INVALID_ENTITY_TYPE"

	// Sync cycle errors
	ErrAlreadySyncing ErrorCode = "ALREADY_SYNCING"
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncCancelled  ErrorCode = "SYNC_CANCELLED"
	ErrAuthRequired   ErrorCode = "AUTHENTICATION_REQUIRED"

	// Transient remote errors (retried with backoff)
	ErrNetworkUnavailable ErrorCode = "NETWORK_UNAVAILABLE"
	ErrNetworkFailure     ErrorCode = "NETWORK_FAILURE"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrZoneBusy           ErrorCode = "ZONE_BUSY"

	// Non-retryable remote errors
	ErrServerRejected ErrorCode = "SERVER_REJECTED"
	ErrUnknownItem    ErrorCode = "UNKNOWN_ITEM"
	ErrQuotaExceeded  ErrorCode = "QUOTA_EXCEEDED"

	// Recoverable remote-state conditions
	ErrTokenExpired ErrorCode = "CHANGE_TOKEN_EXPIRED"
	ErrZoneDeleted  ErrorCode = "ZONE_DELETED"
)

// retryable lists the transient error codes eligible for backoff retry.
var retryable = map[ErrorCode]bool{
	ErrNetworkUnavailable: true,
	ErrNetworkFailure:     true,
	ErrServiceUnavailable: true,
	ErrRateLimited:        true,
	ErrZoneBusy:           true,
}

// IsRetryable reports whether an error carries a transient code.
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return retryable[appErr.Code]
	}
	return false
}

// Code extracts the ErrorCode from an error, or ErrInternal for untyped errors.
func Code(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
