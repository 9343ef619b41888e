// Package apperr defines the error taxonomy shared by both delivery channels.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable category of an error.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindInternal        Kind = "INTERNAL"
)

// Error is an error with a kind and a message safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a VALIDATION error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated returns an UNAUTHENTICATED error wrapping cause.
func Unauthenticated(message string, cause error) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message, Err: cause}
}

// Forbidden returns a FORBIDDEN error.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// NotFound returns a NOT_FOUND error for the named resource.
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

// Internal returns an INTERNAL error wrapping cause.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// PublicMessage returns the message that may be shown to the caller.
// Errors without a kind are reported generically.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error document returned over HTTP.
type Body struct {
	Error BodyError `json:"error"`
}

// BodyError carries the kind and public message of an error.
type BodyError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ToBody builds the HTTP error document for err.
func ToBody(err error) Body {
	return Body{Error: BodyError{Kind: KindOf(err), Message: PublicMessage(err)}}
}
