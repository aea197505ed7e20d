// Package errors provides error code definitions for the TillPoint sync core.
package errors

import "fmt"

// ErrorCode is a stable machine-readable error classification. Codes are
// part of the diagnostics API contract and must not be renamed.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Store errors
	ErrStore           ErrorCode = "STORE_ERROR"
	ErrStoreConstraint ErrorCode = "STORE_CONSTRAINT_VIOLATION"
	ErrStoreCorrupt    ErrorCode = "STORE_CORRUPT"

	// Queue errors
	ErrQueuePersist  ErrorCode = "QUEUE_PERSIST_FAILED"
	ErrDrainBusy     ErrorCode = "QUEUE_DRAIN_IN_PROGRESS"
	ErrNoHandler     ErrorCode = "QUEUE_HANDLER_NOT_REGISTERED"
	ErrItemAbandoned ErrorCode = "QUEUE_ITEM_ABANDONED"

	// Sync errors
	ErrSyncFailed   ErrorCode = "SYNC_FAILED"
	ErrSyncTimeout  ErrorCode = "SYNC_TIMEOUT"
	ErrSyncRejected ErrorCode = "SYNC_REJECTED"
	ErrOffline      ErrorCode = "DEVICE_OFFLINE"

	// Configuration errors
	ErrConfig ErrorCode = "CONFIG_INVALID"
)

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

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
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

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal for plain errors.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternal
}
