// Package errs defines the error taxonomy shared by the resolver, the manager,
// the agent loop and the HTTP layer. Every error that reaches a client is an
// *Error so it can be rendered as {"error":{"message","type","code"}} with a
// stable HTTP status.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindModelNotFound
	KindNoBackendAvailable
	KindProtocol
	KindGeneration
	KindToolExecution
	KindIterationsExhausted
	KindCancelled
)

// StatusClientClosedRequest is the non-standard status used for cancelled requests.
const StatusClientClosedRequest = 499

func (k Kind) String() string {
	switch k {
	case KindModelNotFound:
		return "model_not_found"
	case KindNoBackendAvailable:
		return "no_backend_available"
	case KindProtocol:
		return "invalid_request"
	case KindGeneration:
		return "generation_error"
	case KindToolExecution:
		return "tool_execution_error"
	case KindIterationsExhausted:
		return "iterations_exhausted"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal_error"
	}
}

// Type is the OpenAI-style error type for the envelope.
func (k Kind) Type() string {
	switch k {
	case KindModelNotFound, KindProtocol:
		return "invalid_request_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "server_error"
	}
}

// Status is the default HTTP status for the kind.
func (k Kind) Status() int {
	switch k {
	case KindModelNotFound:
		return http.StatusNotFound
	case KindNoBackendAvailable:
		return http.StatusServiceUnavailable
	case KindProtocol:
		return http.StatusBadRequest
	case KindGeneration:
		return http.StatusBadGateway
	case KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Status overrides Kind.Status when non-zero.
type Error struct {
	Kind   Kind
	Msg    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode satisfies the HTTP layer's HTTPError interface.
func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.Status()
}

// Code is the machine-readable code for the envelope.
func (e *Error) Code() string { return e.Kind.String() }

func ModelNotFound(model string) error {
	return &Error{Kind: KindModelNotFound, Msg: fmt.Sprintf("model '%s' not found", model)}
}

func NoBackendAvailable(msg string) error {
	if msg == "" {
		msg = "no backend available"
	}
	return &Error{Kind: KindNoBackendAvailable, Msg: msg}
}

// Protocol reports a malformed request; status is one of 400/404/405/413/415.
func Protocol(status int, format string, args ...any) error {
	return &Error{Kind: KindProtocol, Status: status, Msg: fmt.Sprintf(format, args...)}
}

func Generation(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if IsCancellation(err) {
		return Cancelled(err)
	}
	return &Error{Kind: KindGeneration, Msg: "generation failed", Err: err}
}

func ToolExecution(tool string, err error) error {
	return &Error{Kind: KindToolExecution, Msg: "tool " + tool + " failed", Err: err}
}

func IterationsExhausted(max int) error {
	return &Error{Kind: KindIterationsExhausted, Msg: fmt.Sprintf("agent loop stopped after %d iterations without a final answer", max)}
}

func Cancelled(err error) error {
	return &Error{Kind: KindCancelled, Msg: "request cancelled", Err: err}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if IsCancellation(err) {
		return KindCancelled
	}
	return KindUnknown
}

// Is reports whether err is classified as k.
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// IsCancellation reports context cancellation or deadline errors.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// From classifies an arbitrary error, defaulting to a generation error.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if IsCancellation(err) {
		return &Error{Kind: KindCancelled, Msg: "request cancelled", Err: err}
	}
	return &Error{Kind: KindUnknown, Msg: err.Error()}
}
