// Package mcperr defines the error taxonomy shared by the connection core
// and the tool layer. Callers see a sanitized kind-tagged message; the full
// cause chain is for logs only and must never reach a tool response.
package mcperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

const (
	// KindUnknown is the zero Kind; KindOf returns it for foreign errors.
	KindUnknown Kind = iota
	// KindConfiguration is fatal at startup: missing or contradictory
	// fields for the selected auth mode.
	KindConfiguration
	// KindAuthentication means the identity provider rejected the request
	// or was unreachable. Retryable within the lifecycle's bounded attempts.
	KindAuthentication
	// KindConnection is a driver-level failure opening or keeping a
	// session. Drives the Ready -> Degraded -> Connecting cycle.
	KindConnection
	// KindValidation is a caller-supplied parameter failing shape or
	// allow-list checks. Returned before any session is touched.
	KindValidation
	// KindExecution is SQL rejected by the database. Never retried.
	KindExecution
	// KindBusy means no session slot was available within the in-flight
	// bound. Distinct from a hard failure; callers may retry later.
	KindBusy
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindAuthentication:
		return "authentication error"
	case KindConnection:
		return "connection error"
	case KindValidation:
		return "validation error"
	case KindExecution:
		return "execution error"
	case KindBusy:
		return "busy"
	default:
		return "error"
	}
}

// Error carries a Kind, a sanitized message, and an optional cause.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

// Error returns the full text including the cause, for logging. Use
// Message for anything that reaches a caller.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// New returns a cause-less Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Newf is New with formatting. The formatted arguments become part of the
// caller-visible message, so never pass secrets or raw driver errors here.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches err as the cause of a new Error. The cause stays out of
// Message; it surfaces only through Error() and Unwrap.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

// KindOf returns the Kind of err, unwrapping as needed, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the sanitized caller-facing text for err: the kind tag
// and message without the cause chain. Foreign errors get a generic text so
// driver internals never leak through an unwrapped path.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	return "internal error"
}
