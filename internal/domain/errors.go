package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID         = "invalid"          // Invalid input or validation failure
	ENOTFOUND        = "not_found"        // Resource not found
	ECONFLICT        = "conflict"         // Resource conflict (e.g., duplicate)
	EVERSIONCONFLICT = "version_conflict" // Stale optimistic-concurrency version; re-read and retry
	ELIMITEXCEEDED   = "limit_exceeded"   // Plan quota exhausted; not retryable without a plan change
	EUNAVAILABLE     = "unavailable"      // Backing store unreachable; the action is denied
	EINTERNAL        = "internal"         // Internal server error
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "gate.check_and_increment")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// VersionConflict creates a stale-version error. The caller observed a
// version that no longer matches the record and must re-read before retrying.
func VersionConflict(op string, expected, actual int64) *Error {
	return &Error{
		Code:    EVERSIONCONFLICT,
		Op:      op,
		Message: fmt.Sprintf("record version changed (expected %d, current %d); re-read and retry", expected, actual),
	}
}

// LimitExceeded creates a quota-exhaustion error for a feature.
func LimitExceeded(op string, feature FeatureKey, used, limit int64) *Error {
	return &Error{
		Code:    ELIMITEXCEEDED,
		Op:      op,
		Message: fmt.Sprintf("quota exceeded for %s (%d of %d used); upgrade your plan to continue", feature, used, limit),
	}
}

// Unavailable creates a fail-closed storage error. Callers must treat this
// as a denial, never as permission to proceed.
func Unavailable(err error, op string) *Error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: "Service temporarily unavailable. Please try again later.",
		Err:     err,
	}
}
