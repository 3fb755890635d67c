// Package granaryerr defines the daemon's error-kind taxonomy: every error
// surfaced across a handler boundary carries one of five kinds, which the
// request dispatcher (pkg/server) maps to a Response.error string and the
// client maps to a process exit code.
package granaryerr

import (
	"errors"
	"fmt"
)

// Kind is one of the five error kinds from the error handling design.
type Kind string

const (
	// UserInput covers malformed IPC payloads, unknown operations, and
	// invalid filter expressions.
	UserInput Kind = "UserInput"
	// NotFound covers missing workers, runs, or events.
	NotFound Kind = "NotFound"
	// Conflict covers already-initialized workspaces, name collisions,
	// a socket path already in use, and authentication token mismatches.
	Conflict Kind = "Conflict"
	// Blocked covers illegal state transitions and unmet preconditions.
	Blocked Kind = "Blocked"
	// Internal covers store, I/O, serialization, and spawn failures.
	Internal Kind = "Internal"
)

// ExitCode returns the client process exit code for k, per §6.
func (k Kind) ExitCode() int {
	switch k {
	case UserInput:
		return 2
	case NotFound:
		return 3
	case Conflict:
		return 4
	case Blocked:
		return 5
	case Internal:
		return 1
	default:
		return 1
	}
}

// Error wraps an underlying error with a Kind, so handlers can report both
// a human-readable message and a machine-classifiable kind without a
// twenty-variant enum.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of kind k with message msg.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Newf builds an Error of kind k with a formatted message.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of kind k wrapping err, with msg as context.
func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, defaulting
// to Internal for any other error — the daemon never lets a bare error
// reach a client without a kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Internal
}
