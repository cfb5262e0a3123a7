// Package errs defines the error taxonomy used across checklink. It is a
// closed set of kinds (not Go types per domain, since the spec's taxonomy
// is deliberately small and orthogonal to which component raised the
// error), in the style of the teacher's internal/errors package (typed,
// timestamped, Unwrap-able errors).
package errs

import (
	"fmt"
	"time"
)

// Kind is one of the seven error kinds from the spec's error-handling
// design: each carries a distinct propagation policy, enforced by callers
// (see cmd/checklink/main.go and internal/collector, internal/pkgadapter).
type Kind string

const (
	// MalformedInput: a file cannot be parsed as ELF or as an archive
	// entry. Logged at warning level; the affected file is skipped.
	MalformedInput Kind = "malformed_input"

	// MissingResource: open/stat of an expected path failed with ENOENT.
	// Logged at warning level; the affected file is skipped.
	MissingResource Kind = "missing_resource"

	// UnsupportedEnvironment: the filesystem cannot report an inode or
	// entry type, or a required sysconf-style query failed. Fatal.
	UnsupportedEnvironment Kind = "unsupported_environment"

	// ExternalCommandFailure: a launched process exited non-zero, was
	// killed by a signal, or produced output that couldn't be parsed.
	// Fatal() reports it as fatal; callers that can proceed without the
	// command's result (the per-dependency archive lookup in
	// internal/pkgadapter) log it and continue instead.
	ExternalCommandFailure Kind = "external_command_failure"

	// ConfigurationError: a syntactically invalid configuration line, or
	// a reference to a non-absolute path where an absolute path is
	// required. Always fatal, always at startup.
	ConfigurationError Kind = "configuration_error"

	// InvariantViolation: a duplicate key where none was expected, or a
	// second inspection attempt on an already-inspected File. Always
	// fatal — it indicates a bug in this program, not bad input.
	InvariantViolation Kind = "invariant_violation"

	// Abort: signals that a worker task wants the whole run to fail
	// without surfacing a further message (the underlying condition was
	// already reported). wait-all turns this into a run-level failure.
	Abort Kind = "abort"
)

// Error is the concrete error value used throughout checklink.
type Error struct {
	Kind      Kind
	Op        string // the operation that failed, e.g. "elfinspect.Inspect"
	Path      string // the file or directory path involved, if any
	Err       error  // the underlying cause, if any
	Timestamp time.Time
}

// New creates an Error of the given kind for operation op, wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Timestamp: time.Now()}
}

// WithPath attaches a path to the error for nicer messages.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Of reports whether err is a *Error of the given kind, unwrapping as
// errors.As would.
func Of(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// Fatal reports whether errors of this kind should abort the whole run
// per the propagation policy in spec.md §7.
func (k Kind) Fatal() bool {
	switch k {
	case MalformedInput, MissingResource:
		return false
	default:
		return true
	}
}
