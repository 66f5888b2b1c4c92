// Package errs defines the stable error kinds surfaced by the incident and
// journey engines, and maps them onto gRPC status codes.
package errs

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an error for callers and transports
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUpstream
	KindConflict
	KindNoRoute
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream_provider_error"
	case KindConflict:
		return "concurrency_conflict"
	case KindNoRoute:
		return "no_route"
	default:
		return "internal_error"
	}
}

// Code returns the gRPC code used when this kind crosses a transport boundary
func (k Kind) Code() codes.Code {
	switch k {
	case KindValidation:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindUpstream:
		return codes.Unavailable
	case KindConflict:
		return codes.Aborted
	case KindNoRoute:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// Error carries a Kind, the operation that failed and a human-readable detail
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// GRPCStatus lets status.FromError and status.Code recognise the kind
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Kind.Code(), e.Error())
}

// New creates an error of the given kind
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

func Upstream(op string, err error) error {
	return Wrap(KindUpstream, op, err)
}

func Conflict(op, format string, args ...any) *Error {
	return New(KindConflict, op, format, args...)
}

// NoRoute reports a segment for which the provider returned no alternatives
func NoRoute(op string, segment int, from, to fmt.Stringer) *Error {
	return New(KindNoRoute, op, "no route found for segment %d (%s -> %s)", segment, from, to)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
