// Package yokeerr defines the structured error taxonomy shared across the
// runtime's components. Every component-level failure is surfaced as an
// *Error carrying a Kind so callers can decide whether to retry, surface
// the failure to the agent, or terminate a session.
package yokeerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for uniform handling by the orchestrator and by
// observers.
type Kind string

const (
	// KindPrecondition means an invariant would be violated by the
	// requested operation (e.g. closing a task with failing tests). Surfaced
	// to the agent as a tool error; the agent is expected to recover.
	KindPrecondition Kind = "precondition"
	// KindNotFound means the referenced entity does not exist.
	KindNotFound Kind = "not_found"
	// KindForbidden means the referenced entity exists but is outside the
	// caller's project scope.
	KindForbidden Kind = "forbidden"
	// KindSandboxUnavailable means the container runtime is unreachable or
	// failed to start a workspace.
	KindSandboxUnavailable Kind = "sandbox_unavailable"
	// KindAgentTransport means the external agent's event stream aborted or
	// exceeded the transport buffer.
	KindAgentTransport Kind = "agent_transport"
	// KindTimeout means an exec call or the whole session exceeded its
	// deadline.
	KindTimeout Kind = "timeout"
	// KindSecurityDenied means the Security Gate blocked a command before
	// it reached the sandbox.
	KindSecurityDenied Kind = "security_denied"
	// KindStorage means the Task Store (or another durable store) is
	// unavailable.
	KindStorage Kind = "storage"
)

// Error is the structured error value returned across component
// boundaries. It implements the standard error interface and supports
// errors.Is/As via Unwrap.
type Error struct {
	Kind      Kind
	Message   string
	Retriable bool
	cause     error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, retriable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retriable: retriable}
}

// Wrap constructs an Error of the given kind around an existing error,
// preserving it for errors.Is/As via Unwrap.
func Wrap(kind Kind, retriable bool, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retriable: retriable, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is a *Error with the same Kind. This lets
// callers write errors.Is(err, yokeerr.New(yokeerr.KindNotFound, ...)) or,
// more commonly, define sentinel kinds and compare with Kind().
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err, returning "" if err is not (and does
// not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retriable reports whether err is a *Error marked retriable.
func Retriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable
	}
	return false
}
