// Package dispatch routes validated tool calls to their handlers.
//
// The dispatcher is the single chokepoint between the protocol layer
// and the tool implementations: every call passes the security gate,
// is resolved through the registry, executed with a deadline and panic
// isolation, then normalized into a Response carrying either a payload
// or an ErrorRecord, never both. Metrics and audit see exactly one
// record per call regardless of how it ended.
package dispatch

import (
	"fmt"
	"time"
)

// Handler error kinds, continuing the gate's violation kinds. Together
// they form the stable error taxonomy surfaced to callers.
const (
	KindUnknownTool    = "unknown_tool"
	KindIOError        = "io_error"
	KindExecutionError = "execution_error"
	KindNetworkError   = "network_error"
	KindTimeout        = "timeout"
	KindDomainError    = "domain_error"
)

// Request is one tool invocation as received from the protocol layer.
type Request struct {
	// ID correlates logs, audit events, and the response. The
	// dispatcher assigns one when empty.
	ID string

	// CallerID identifies the rate-limit principal. The protocol layer
	// derives it from the session; "local" when there is none.
	CallerID string

	Tool      string
	Arguments map[string]any
}

// ErrorRecord is the structured failure half of a Response. Kind is a
// stable identifier from the taxonomy; Message is human-readable and
// never contains resolved paths, stack traces, or other internals.
type ErrorRecord struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Response is the normalized outcome of one call. Exactly one of
// Payload and Error is set.
type Response struct {
	RequestID string
	Tool      string
	Payload   any
	Error     *ErrorRecord
	Duration  time.Duration
}

// Succeeded reports whether the call produced a payload.
func (r *Response) Succeeded() bool {
	return r.Error == nil
}

// Error is the error type handlers return to control the kind and
// retryability surfaced to the caller. Plain errors from handlers are
// mapped to execution_error.
type Error struct {
	Kind      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return e.Kind + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a handler error with a formatted message.
func Errorf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr attaches an underlying cause. The cause goes to logs only;
// the caller sees kind and message.
func WrapErr(kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Retryable marks the error as safe to retry (transient network
// failures, timeouts).
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}
