// Package errors provides the error taxonomy shared by the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure that callers can branch on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local storage errors. Always fatal for the caller.
	ErrLocalStorage ErrorCode = "LOCAL_STORAGE_FAILURE"
	ErrMigration    ErrorCode = "MIGRATION_FAILED"

	// Remote errors. Never fatal from the sync core's point of view.
	ErrNetworkUnavailable ErrorCode = "NETWORK_UNAVAILABLE"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrServer             ErrorCode = "SERVER_ERROR"
	ErrMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"

	// Sync errors
	ErrSyncInProgress    ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	// StatusCode carries the HTTP status for ErrServer, zero otherwise.
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
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

// Server builds an ErrServer error for a non-2xx response.
func Server(status int, message string) *AppError {
	return &AppError{
		Code:       ErrServer,
		Message:    message,
		StatusCode: status,
	}
}

// Storage wraps a local storage failure. Nil in, nil out.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if Is(err, ErrLocalStorage) {
		return err
	}
	return Wrap(ErrLocalStorage, op, err)
}

// Is reports whether err, or any error it wraps, is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// StatusOf returns the HTTP status carried by a server error, or zero.
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// IsRemote reports whether err belongs to the remote failure classes that degrade to
// "stay pending, use cache" instead of surfacing to the user.
func IsRemote(err error) bool {
	switch CodeOf(err) {
	case ErrNetworkUnavailable, ErrTimeout, ErrServer, ErrMalformedResponse:
		return true
	}
	return false
}

// IsTransient reports whether retrying later may succeed.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case ErrNetworkUnavailable, ErrTimeout:
		return true
	case ErrServer:
		status := StatusOf(err)
		return status == 0 || status >= 500 || status == 429 || status == 408
	}
	return false
}
