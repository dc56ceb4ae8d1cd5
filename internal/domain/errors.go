// Package domain holds the queue/message data model shared by the store,
// service, and API layers: types, validation, and the error taxonomy used
// to carry repository failures up to HTTP status codes.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error so callers can map it to a transport
// status without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindNotFound
	KindConflict
	KindAlreadyExists
	KindUnavailable
)

// Error is the error type returned by repositories and the queue service.
// Kind is independent of the message text so API handlers can switch on it.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func BadRequest(format string, args ...any) *Error {
	return newErr(KindBadRequest, nil, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newErr(KindNotFound, nil, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newErr(KindConflict, nil, format, args...)
}

func AlreadyExists(format string, args ...any) *Error {
	return newErr(KindAlreadyExists, nil, format, args...)
}

func Unavailable(cause error, format string, args ...any) *Error {
	return newErr(KindUnavailable, cause, format, args...)
}

func Internal(cause error, format string, args ...any) *Error {
	return newErr(KindInternal, cause, format, args...)
}

// KindOf extracts the Kind from err, defaulting to KindInternal for errors
// that did not originate in this package.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
