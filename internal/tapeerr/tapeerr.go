// Package tapeerr defines the typed error kinds that cross the transport
// boundary between a session and its caller.
package tapeerr

import "fmt"

// Kind identifies one of the error categories a session can surface.
type Kind string

const (
	SchemaError       Kind = "schema-error"
	TapeMiss          Kind = "tape-miss"
	RedactionError     Kind = "redaction-error"
	StoreBusy         Kind = "store-busy"
	RecorderReentrancy Kind = "recorder-reentrancy"
	SessionClosed      Kind = "session-closed"
	Timeout            Kind = "timeout"
	ProcessError       Kind = "process-error"
	SimulatedTimeout   Kind = "simulated-timeout"
	SimulatedExit      Kind = "simulated-exit"
)

// Identity carries the session-identity key fields that every user-visible
// failure must include.
type Identity struct {
	Program string
	Args    []string
	Cwd     string
}

// Diagnostic carries the context-specific detail attached to a failure.
type Diagnostic struct {
	// BufferTail is the tail of the accumulated output buffer (<=50 lines),
	// attached to Timeout.
	BufferTail string
	// NearestKeys are up to 5 candidate match keys, nearest first, attached
	// to TapeMiss.
	NearestKeys []NearestKey
	// Path and Line/Col locate the offending field, attached to SchemaError.
	Path string
	Line int
	Col  int
}

// NearestKey is one candidate suggested on a tape-miss.
type NearestKey struct {
	Key      string
	Input    string
	Distance int
}

// Error is the typed error returned across the transport boundary.
type Error struct {
	Kind       Kind
	Summary    string
	Identity   Identity
	Diagnostic Diagnostic
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Identity.Program != "" {
		return fmt.Sprintf("%s: %s (program=%s args=%v cwd=%s)", e.Kind, e.Summary, e.Identity.Program, e.Identity.Args, e.Identity.Cwd)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Summary)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target names the same Kind, so callers can use
// errors.Is(err, tapeerr.TapeMiss) style checks via a sentinel wrapper.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an Error of the given kind with a summary.
func New(kind Kind, summary string) *Error {
	return &Error{Kind: kind, Summary: summary}
}

// WithIdentity attaches session-identity fields and returns the receiver.
func (e *Error) WithIdentity(id Identity) *Error {
	e.Identity = id
	return e
}

// WithDiagnostic attaches a diagnostic and returns the receiver.
func (e *Error) WithDiagnostic(d Diagnostic) *Error {
	e.Diagnostic = d
	return e
}

// WithCause wraps an underlying error and returns the receiver.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// Sentinel returns a zero-value Error of the given kind, usable as the
// target of errors.Is(err, tapeerr.Sentinel(tapeerr.TapeMiss)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}
