// Package errs holds the error kinds shared by the token service, the room
// transport and the session orchestrator.
//
// Callers classify failures with errors.Is against the kind sentinels:
//
//	if errors.Is(err, errs.ErrConnection) { /* caller may retry */ }
//
// An *Error carries both the kind and the underlying cause, so errors.Is
// also matches the cause (context.DeadlineExceeded, grant.ErrExpired, ...).
package errs

import (
	"errors"
	"strings"
)

// Kinds.
var (
	// ErrValidation marks bad caller input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or malformed configuration (secret, URL, grant format).
	ErrConfiguration = errors.New("configuration error")
	// ErrConnection marks a transient network or room failure. Caller may retry.
	ErrConnection = errors.New("connection error")
	// ErrState marks an operation attempted in a phase that forbids it.
	ErrState = errors.New("invalid state")
	// ErrClosed marks a terminal transport. Not retryable on the same instance.
	ErrClosed = errors.New("closed")
	// ErrProtocolAnomaly marks unexpected peer behaviour that is logged and dropped.
	ErrProtocolAnomaly = errors.New("protocol anomaly")
)

// Error is an operation failure of a given kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

// E builds an *Error. err may be nil.
func E(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		if e.Kind != nil {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the first kind sentinel err matches, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrConfiguration, ErrConnection, ErrState, ErrClosed, ErrProtocolAnomaly} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection) && !errors.Is(err, ErrConfiguration)
}
