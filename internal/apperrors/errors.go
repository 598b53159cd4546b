// Package apperrors defines the error taxonomy shared by clients, services,
// and handlers. Every store- or engine-facing failure is translated into one
// of these kinds with a stable machine-readable code; raw transport errors
// never cross the service boundary.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the error taxonomy.
type Kind string

const (
	// KindValidation covers malformed requests rejected before any I/O.
	KindValidation Kind = "validation"
	// KindNotFound covers missing carts, orders, coupons, or sessions.
	KindNotFound Kind = "not_found"
	// KindUpstream covers transport-level failures talking to the engine or store.
	KindUpstream Kind = "upstream"
	// KindConflict covers optimistic-lock version conflicts. Internal: the
	// write pipeline retries these and callers only see them on exhaustion.
	KindConflict Kind = "conflict"
	// KindRetriesExhausted covers writes abandoned after the retry budget,
	// always paired with a persisted dead-letter record.
	KindRetriesExhausted Kind = "retries_exhausted"
	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

// Error carries the taxonomy kind alongside a stable error code and optional
// structured detail for the response envelope.
type Error struct {
	Kind       Kind
	StatusCode int
	ErrorCode  string
	Message    string
	Data       map[string]any
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrorCode, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
	}
	return e.ErrorCode
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithData attaches structured detail (e.g. validation field lists) and
// returns the error for chaining.
func (e *Error) WithData(data map[string]any) *Error {
	if e == nil || len(data) == 0 {
		return e
	}
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	e.Data = copied
	return e
}

func newError(kind Kind, status int, code, message string, cause error) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: status,
		ErrorCode:  code,
		Message:    message,
		Err:        cause,
	}
}

// Validation constructs a 400-class validation error.
func Validation(code, message string) *Error {
	return newError(KindValidation, http.StatusBadRequest, code, message, nil)
}

// NotFound constructs a 404-class missing-entity error.
func NotFound(code, message string) *Error {
	return newError(KindNotFound, http.StatusNotFound, code, message, nil)
}

// Upstream constructs a 502-class collaborator failure.
func Upstream(code, message string, cause error) *Error {
	return newError(KindUpstream, http.StatusBadGateway, code, message, cause)
}

// Conflict constructs an internal version-conflict error retried by the write pipeline.
func Conflict(code, message string) *Error {
	return newError(KindConflict, http.StatusConflict, code, message, nil)
}

// RetriesExhausted constructs a 500-class error referencing the persisted dead letter.
func RetriesExhausted(code, message string, cause error) *Error {
	return newError(KindRetriesExhausted, http.StatusInternalServerError, code, message, cause)
}

// Internal constructs an unclassified 500-class error.
func Internal(code, message string, cause error) *Error {
	return newError(KindInternal, http.StatusInternalServerError, code, message, cause)
}

// KindOf extracts the taxonomy kind, defaulting to KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Kind
	}
	return KindInternal
}

// As extracts the typed error when present.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

// IsConflict reports whether err is a version-conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
