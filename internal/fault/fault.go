// ABOUTME: Structured error type with a closed code taxonomy
// ABOUTME: Maps codes to HTTP statuses and carries quota metadata

package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the category of a gateway error.
type Code string

// The closed set of error codes. Nothing else crosses the API boundary.
const (
	CodeUnauthenticated   Code = "unauthenticated"
	CodePermissionDenied  Code = "permission-denied"
	CodeResourceExhausted Code = "resource-exhausted"
	CodeInvalidArgument   Code = "invalid-argument"
	CodeUnavailable       Code = "unavailable"
	CodeInternal          Code = "internal"
)

// Error is the structured error returned to API clients.
// CurrentUsage/Limit/Tier are populated for resource-exhausted errors.
type Error struct {
	Code              Code   `json:"code"`
	Message           string `json:"message"`
	CurrentUsage      int    `json:"currentUsage,omitempty"`
	Limit             int    `json:"limit,omitempty"`
	UpgradeRequired   bool   `json:"upgradeRequired,omitempty"`
	Tier              string `json:"tier,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated creates an unauthenticated error.
func Unauthenticated(format string, args ...any) *Error {
	return New(CodeUnauthenticated, format, args...)
}

// PermissionDenied creates a permission-denied error.
func PermissionDenied(format string, args ...any) *Error {
	return New(CodePermissionDenied, format, args...)
}

// InvalidArgument creates an invalid-argument error.
func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

// Unavailable creates an unavailable error.
func Unavailable(format string, args ...any) *Error {
	return New(CodeUnavailable, format, args...)
}

// Internal creates an internal error. The wrapped cause is logged by the
// caller, never surfaced in the message.
func Internal(format string, args ...any) *Error {
	return New(CodeInternal, format, args...)
}

// ResourceExhausted creates a resource-exhausted error with quota metadata.
func ResourceExhausted(message string, currentUsage, limit int, tier string) *Error {
	return &Error{
		Code:            CodeResourceExhausted,
		Message:         message,
		CurrentUsage:    currentUsage,
		Limit:           limit,
		Tier:            tier,
		UpgradeRequired: tier == "FREE",
	}
}

// WithRetryAfter sets the retry hint and returns the error for chaining.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfterSeconds = seconds
	return e
}

// As extracts a *Error from an error chain. Returns nil if the chain
// contains no fault error.
func As(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

// HTTPStatus maps a code to its HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeResourceExhausted:
		return http.StatusTooManyRequests
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
