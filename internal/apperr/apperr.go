// Package apperr defines the error-kind taxonomy shared by the ledger
// service, webhook pipeline and HTTP layer. It collapses the three-tier
// DomainError/RepoError/AppError scheme of
// original_source/payments-types/src/error.rs into a single, flatter
// Kind enum.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error for HTTP status mapping and logging.
type Kind string

const (
	KindValidationFailed   Kind = "VALIDATION_FAILED"
	KindInsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	KindUnauthenticated    Kind = "UNAUTHENTICATED"
	KindForbidden          Kind = "FORBIDDEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindInternal           Kind = "INTERNAL"
)

// Error is the error type returned across the service/HTTP boundary. The
// Message field is always safe to show to a caller; Internal errors carry
// a generic message and log the real cause separately, so 5xx responses
// never leak internal details.
type Error struct {
	Kind              Kind
	Message           string
	RetryAfterSeconds int
	cause             error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Validation(format string, args ...any) *Error {
	return newErr(KindValidationFailed, fmt.Sprintf(format, args...))
}

func InsufficientFunds(available, requested int64) *Error {
	return &Error{
		Kind:    KindInsufficientFunds,
		Message: fmt.Sprintf("insufficient funds: available %d, requested %d", available, requested),
	}
}

func Unauthenticated(msg string) *Error {
	return newErr(KindUnauthenticated, msg)
}

func Forbidden(msg string) *Error {
	return newErr(KindForbidden, msg)
}

func NotFound(format string, args ...any) *Error {
	return newErr(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return newErr(KindConflict, fmt.Sprintf(format, args...))
}

func RateLimited(retryAfterSeconds int) *Error {
	return &Error{
		Kind:              KindRateLimited,
		Message:           "rate limit exceeded",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// Internal wraps an unexpected error without leaking its message; cause is
// preserved for logging via errors.Unwrap / %w.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, else
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
