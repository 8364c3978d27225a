// Package forgeerr defines the forge's typed-outcome error kinds: every
// component operation that can fail returns a ForgeError carrying exactly
// one Kind and, where applicable, a wrapped cause, rather than raising
// across component boundaries. Kind lets the Director map failures onto
// operator-facing exit codes without re-deriving them from error string
// matching.
package forgeerr

import "errors"

// Kind enumerates the error taxonomy. Each kind maps to exactly one
// operator-visible signal.
type Kind string

const (
	NotFound             Kind = "not_found"
	InvalidInput         Kind = "invalid_input"
	InvariantViolation   Kind = "invariant_violation"
	InsufficientEvidence Kind = "insufficient_evidence"
	ServerUnavailable    Kind = "server_unavailable"
	Timeout              Kind = "timeout"
	ValidationFailed     Kind = "validation_failed"
	Busy                 Kind = "busy"
	Cancelled            Kind = "cancelled"
	Internal             Kind = "internal"
)

// Error is the typed outcome every component returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a *Error of kind with message and no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a *Error of kind around cause, with message describing the
// operation that failed.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, returning Internal when err is not a
// *Error, the catch-all for unexpected state.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}
