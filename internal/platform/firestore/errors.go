package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorClass int

const (
	classUnknown errorClass = iota
	classNotFound
	classConflict
	classUnavailable
)

// Error classifies a Firestore failure so repositories can expose
// missing-document, conflicting-write, and transient-outage semantics
// without leaking grpc status codes.
type Error struct {
	op    string
	class errorClass
	err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the document does not exist.
func (e *Error) IsNotFound() bool { return e != nil && e.class == classNotFound }

// IsConflict reports whether a concurrent write invalidated this one.
func (e *Error) IsConflict() bool { return e != nil && e.class == classConflict }

// IsUnavailable reports whether the backend failed transiently.
func (e *Error) IsUnavailable() bool { return e != nil && e.class == classUnavailable }

func classify(code codes.Code) errorClass {
	switch code {
	case codes.NotFound:
		return classNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return classConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return classUnavailable
	}
	return classUnknown
}

// WrapError annotates a Firestore error with repository semantics. Context
// cancellations pass through unwrapped so callers can errors.Is on them.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return &Error{op: op, class: classify(status.Code(err)), err: err}
}
