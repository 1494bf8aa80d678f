// Package apperr defines the error kinds surfaced by passportd services.
//
// Services return *Error values for every failure a caller can act on. The HTTP
// layer maps the Kind to a status code and a structured body; anything that is not
// an *Error is treated as Internal.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable category of an error
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindValidation          Kind = "validation"
	KindUnauthenticated     Kind = "unauthenticated"
	KindAuthorizationDenied Kind = "authorization_denied"
	KindDomainState         Kind = "domain_state"
	KindConfigurationFatal  Kind = "configuration_fatal"
	KindInternal            Kind = "internal"
)

// HTTPStatus returns the status code used when an error of this kind reaches the boundary
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindValidation, KindDomainState:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindAuthorizationDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a categorized error with a human-readable message
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func Unauthenticated(format string, args ...interface{}) *Error {
	return New(KindUnauthenticated, format, args...)
}

func Denied(format string, args ...interface{}) *Error {
	return New(KindAuthorizationDenied, format, args...)
}

func DomainState(format string, args ...interface{}) *Error {
	return New(KindDomainState, format, args...)
}

func ConfigurationFatal(format string, args ...interface{}) *Error {
	return New(KindConfigurationFatal, format, args...)
}

// KindOf reports the kind of err, walking the wrap chain. Errors that carry no
// kind are Internal; a nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound reports whether err is a NotFound error
func IsNotFound(err error) bool {
	return Is(err, KindNotFound)
}

// MessageOf returns the message safe to show a caller. Internal errors are not
// described beyond their kind.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "internal server error"
}
