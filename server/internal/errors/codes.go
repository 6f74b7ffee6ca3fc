package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for orchestration operations.
type ErrorCode string

const (
	// ErrCodeLeaseLost indicates the caller lost an ownership race and must
	// abandon the work immediately.
	ErrCodeLeaseLost ErrorCode = "LEASE_LOST"
	// ErrCodeStaleClaim indicates an operation on a job the caller never held.
	ErrCodeStaleClaim ErrorCode = "STALE_CLAIM"
	// ErrCodeExternalStreamFailure indicates the voice transport, STT, TTS or
	// LLM collaborator is unavailable. Retried at the job level.
	ErrCodeExternalStreamFailure ErrorCode = "EXTERNAL_STREAM_FAILURE"
	// ErrCodeNotFound indicates an invalid seq or session reference.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidTransition indicates a state machine guard failed.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrCodeAlreadyStruck indicates a strike on a seq that is already struck.
	ErrCodeAlreadyStruck ErrorCode = "ALREADY_STRUCK"
	// ErrCodeSessionFinalized indicates the transcript is past its grace
	// window and no further mutations are permitted.
	ErrCodeSessionFinalized ErrorCode = "SESSION_FINALIZED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeStorageUnavailable indicates the backing store failed.
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
)

// CoreError represents a structured error for orchestration operations.
type CoreError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Convenience constructors for common error types.

// LeaseLost creates a lease lost error.
func LeaseLost(msg string) *CoreError {
	return &CoreError{Code: ErrCodeLeaseLost, Message: msg}
}

// StaleClaim creates a stale claim error.
func StaleClaim(msg string) *CoreError {
	return &CoreError{Code: ErrCodeStaleClaim, Message: msg}
}

// ExternalStreamFailure creates an external stream failure error.
func ExternalStreamFailure(msg string, cause error) *CoreError {
	return &CoreError{Code: ErrCodeExternalStreamFailure, Message: msg, Cause: cause}
}

// NotFound creates a not found error.
func NotFound(msg string) *CoreError {
	return &CoreError{Code: ErrCodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with a formatted message.
func NotFoundf(format string, args ...any) *CoreError {
	return &CoreError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition creates an invalid transition error.
func InvalidTransition(from, to string) *CoreError {
	return &CoreError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition session from %s to %s", from, to),
	}
}

// AlreadyStruck creates an already struck error.
func AlreadyStruck(seq int32) *CoreError {
	return &CoreError{
		Code:    ErrCodeAlreadyStruck,
		Message: fmt.Sprintf("utterance seq %d is already struck", seq),
	}
}

// SessionFinalized creates a session finalized error.
func SessionFinalized(msg string) *CoreError {
	return &CoreError{Code: ErrCodeSessionFinalized, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *CoreError {
	return &CoreError{Code: ErrCodeInvalidArgument, Message: msg}
}

// StorageUnavailable wraps a storage failure.
func StorageUnavailable(cause error) *CoreError {
	return &CoreError{Code: ErrCodeStorageUnavailable, Message: "storage unavailable", Cause: cause}
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code ErrorCode, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error (or any error in its chain) carries the code.
func IsCode(err error, code ErrorCode) bool {
	var coreErr *CoreError
	if errors.As(err, &coreErr) {
		return coreErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a CoreError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var coreErr *CoreError
	if errors.As(err, &coreErr) {
		return coreErr.Code
	}
	return defaultCode
}
