// Package apperr defines the error taxonomy shared by the permit services and
// the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers that need to react to it (HTTP status, retries).
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindStorage
	KindPersistence
	KindUnauthenticated
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindPersistence:
		return "persistence"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error carries a kind, the failing operation and a user-facing message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil && e.Err.Error() != e.Message {
		if e.Message != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a structured detail and returns e.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// E builds an Error of kind k wrapping err.
func E(k Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(op string, err error, format string, args ...any) *Error {
	return E(KindValidation, op, err, format, args...)
}

func NotFound(op string, err error, format string, args ...any) *Error {
	return E(KindNotFound, op, err, format, args...)
}

func Conflict(op string, err error, format string, args ...any) *Error {
	return E(KindConflict, op, err, format, args...)
}

func Storage(op string, err error, format string, args ...any) *Error {
	return E(KindStorage, op, err, format, args...)
}

func Persistence(op string, err error, format string, args ...any) *Error {
	return E(KindPersistence, op, err, format, args...)
}

func Unauthenticated(op string, format string, args ...any) *Error {
	return E(KindUnauthenticated, op, nil, format, args...)
}

func Forbidden(op string, format string, args ...any) *Error {
	return E(KindForbidden, op, nil, format, args...)
}

// KindOf returns the kind of the outermost *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of the outermost *Error, or fallback.
func MessageOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// DetailsOf returns structured details of the outermost *Error, if any.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
