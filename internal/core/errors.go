package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures so transports can pick a status code and callers can decide on retries.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindUpstreamTimeout
	KindUpstreamPolicy
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindUpstreamPolicy:
		return "upstream_policy"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Error is the error type shared by the ingestion and retrieval paths.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func ValidationError(format string, args ...any) error {
	return newError(KindValidation, nil, format, args...)
}

func AuthError(format string, args ...any) error {
	return newError(KindAuth, nil, format, args...)
}

func NotFoundError(format string, args ...any) error {
	return newError(KindNotFound, nil, format, args...)
}

func UpstreamTimeoutError(err error, format string, args ...any) error {
	return newError(KindUpstreamTimeout, err, format, args...)
}

func UpstreamPolicyError(err error, format string, args ...any) error {
	return newError(KindUpstreamPolicy, err, format, args...)
}

func ConfigurationError(format string, args ...any) error {
	return newError(KindConfiguration, nil, format, args...)
}

func InternalError(err error, format string, args ...any) error {
	return newError(KindInternal, err, format, args...)
}

// KindOf reports the kind of the first *Error in err's chain; anything else is internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code returned to API callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindUpstreamPolicy:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show a caller: the message of an *Error without its cause.
// Configuration problems and untyped errors get a generic message.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindConfiguration {
		return e.Message
	}
	return "internal server error"
}
