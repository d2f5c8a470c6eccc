package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind classifies a Firestore failure for the service layer.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	// KindConflict covers failed preconditions, duplicate creates and aborted transactions.
	KindConflict
	KindUnavailable
	// KindMissingIndex is a FailedPrecondition caused by a composite index that has not been
	// deployed, typically an order listing filtered by customer and status.
	KindMissingIndex
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindMissingIndex:
		return "missing_index"
	default:
		return "unknown"
	}
}

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	op   string
	kind ErrorKind
	err  error
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

// Kind exposes the classification.
func (e *Error) Kind() ErrorKind {
	if e == nil {
		return KindUnknown
	}
	return e.kind
}

func (e *Error) IsNotFound() bool {
	return e.Kind() == KindNotFound
}

func (e *Error) IsConflict() bool {
	return e.Kind() == KindConflict
}

// IsUnavailable reports a backend condition the caller cannot fix by retrying with other input.
// A missing index counts: the request is valid but the database cannot serve it yet.
func (e *Error) IsUnavailable() bool {
	kind := e.Kind()
	return kind == KindUnavailable || kind == KindMissingIndex
}

func classify(err error) ErrorKind {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.NotFound:
		return KindNotFound
	case codes.FailedPrecondition:
		if strings.Contains(strings.ToLower(st.Message()), "index") {
			return KindMissingIndex
		}
		return KindConflict
	case codes.AlreadyExists, codes.Aborted, codes.OutOfRange:
		return KindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations are passed through.
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
	return &Error{op: op, kind: classify(err), err: err}
}

// NewConflictError reports a failed optimistic precondition detected by the caller.
func NewConflictError(op string, err error) error {
	return &Error{op: op, kind: KindConflict, err: err}
}
