// Package apperr defines the error kinds surfaced to API clients.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a machine-stable error identifier returned to clients.
type Kind string

const (
	KindInvalidUpload    Kind = "invalid_upload"
	KindFileTooLarge     Kind = "file_too_large"
	KindInvalidAlgorithm Kind = "invalid_algorithm"
	KindEncodeFailed     Kind = "encode_failed"
	KindEncodeTimeout    Kind = "encode_timeout"
	KindFileExpired      Kind = "file_expired"
	KindNotFound         Kind = "not_found"
	KindInvalidRequest   Kind = "invalid_request"
	KindInternal         Kind = "internal"
)

// Error carries a Kind, a client-facing message and an optional cause.
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

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps a kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidUpload, KindInvalidAlgorithm, KindInvalidRequest:
		return http.StatusBadRequest
	case KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindNotFound, KindFileExpired:
		return http.StatusNotFound
	case KindEncodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
