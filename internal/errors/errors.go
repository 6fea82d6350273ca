// Package errors defines the gateway's error taxonomy. Every error that
// crosses a component boundary carries a Kind, which maps to a stable
// error code and an HTTP status. Components wrap causes with
// fmt.Errorf("...: %w", err) and classify at the boundary where the
// failure is understood.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy and HTTP mapping.
type Kind int

const (
	// KindInternal is the zero kind: unexpected failures. Surfaces as 500
	// and raises an alert.
	KindInternal Kind = iota

	// KindValidation covers syntactically bad input: missing headers,
	// malformed tokens, malformed bodies. Never retried. 400.
	KindValidation

	// KindAuthentication covers invalid credentials or token signatures.
	// Never retried. 401. Counted toward brute-force detection.
	KindAuthentication

	// KindAuthorization covers authenticated callers with insufficient
	// permissions. 403.
	KindAuthorization

	// KindDependencyUnavailable covers vault/cache/backend unreachable
	// after retries. May trigger degraded mode; 503 when it cannot.
	KindDependencyUnavailable

	// KindDependencyAuth covers a dependency rejecting this service's
	// own credentials. Never retried, never served degraded. Surfaces
	// as a plain internal error so store topology stays out of
	// responses.
	KindDependencyAuth

	// KindRotationConflict covers an attempt to start a second live
	// rotation for a client. 409.
	KindRotationConflict

	// KindInvalidStateTransition covers a rotation advance from an
	// incompatible state. 409.
	KindInvalidStateTransition
)

// Code returns the stable wire code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindAuthentication:
		return "AUTH_ERROR"
	case KindAuthorization:
		return "FORBIDDEN"
	case KindDependencyUnavailable:
		return "DEPENDENCY_UNAVAILABLE"
	case KindRotationConflict:
		return "ROTATION_CONFLICT"
	case KindInvalidStateTransition:
		return "INVALID_STATE_TRANSITION"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus returns the HTTP status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case KindRotationConflict, KindInvalidStateTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Message is safe for responses and logs;
// anything sensitive stays in the wrapped cause, which never leaves the
// process.
type Error struct {
	ErrKind Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{ErrKind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{ErrKind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{ErrKind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrKind
	}
	return KindInternal
}

// CodeOf returns the stable wire code for an error chain.
func CodeOf(err error) string {
	return KindOf(err).Code()
}

// HTTPStatusOf returns the HTTP status for an error chain.
func HTTPStatusOf(err error) int {
	return KindOf(err).HTTPStatus()
}

// MessageOf returns the response-safe message for an error chain.
// Unclassified errors get a generic message so internal detail never
// leaks to callers.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Is reports whether any error in the chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error may be retried. Authentication,
// authorization, and validation failures are terminal; the rest may be
// transient.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAuthentication, KindAuthorization,
		KindDependencyAuth, KindRotationConflict, KindInvalidStateTransition:
		return false
	default:
		return true
	}
}
