package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so transports can map it without string matching.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindStateConflict       Kind = "STATE_CONFLICT"
	KindExpiredKey          Kind = "EXPIRED_KEY"
	KindDenied              Kind = "DENIED"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindServiceUnavailable  Kind = "SERVICE_UNAVAILABLE"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindInternal            Kind = "INTERNAL"
)

// Error carries a caller-safe message. Err is kept for logs only.
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

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, apperr.ErrDenied) works for any message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrStateConflict       = &Error{Kind: KindStateConflict}
	ErrExpiredKey          = &Error{Kind: KindExpiredKey}
	ErrDenied              = &Error{Kind: KindDenied}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrServiceUnavailable  = &Error{Kind: KindServiceUnavailable}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrForbidden           = &Error{Kind: KindForbidden}
)

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

func StateConflict(format string, args ...interface{}) *Error {
	return New(KindStateConflict, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return New(KindForbidden, format, args...)
}

func Unavailable(format string, args ...interface{}) *Error {
	return New(KindServiceUnavailable, format, args...)
}

// Denied never says which check failed.
func Denied() *Error {
	return &Error{Kind: KindDenied, Message: "verification failed"}
}

func ExpiredKey() *Error {
	return &Error{Kind: KindExpiredKey, Message: "release key already used"}
}

func InsufficientBalance() *Error {
	return &Error{Kind: KindInsufficientBalance, Message: "insufficient balance"}
}

// KindOf returns KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the public message, or a generic one for internal failures.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindStateConflict:
		return http.StatusConflict
	case KindExpiredKey:
		return http.StatusGone
	case KindDenied, KindForbidden:
		return http.StatusForbidden
	case KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
