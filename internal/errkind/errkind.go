// Package errkind provides a shared error-category taxonomy used across the
// STUN transaction layer, the pseudo-TCP engine, and the mux listener so the
// admin surface and logs can report a stable machine-readable category
// alongside the human-readable message.
package errkind

import "errors"

// Kind identifies the broad category of a failure, mirrored on callers'
// error-handling policy (log-and-drop, surface-once, close-connection, ...).
type Kind string

// Recognized error kinds.
const (
	Malformed            Kind = "malformed"
	Closed               Kind = "closed"
	NotConnected         Kind = "not-connected"
	TimedOut             Kind = "timed-out"
	Unreachable          Kind = "unreachable"
	WouldBlock           Kind = "would-block"
	UnknownTransaction   Kind = "unknown-transaction"
	DuplicateClassifier  Kind = "duplicate-classifier"
	ProtocolViolation    Kind = "protocol-violation"
	ResourceExhausted    Kind = "resource-exhausted"
)

// KindError pairs a Kind with an underlying error, satisfying the error
// interface and errors.Is/errors.As via Unwrap.
type KindError struct {
	K       Kind
	Wrapped error
}

func (e *KindError) Error() string {
	if e.Wrapped == nil {
		return string(e.K)
	}
	return string(e.K) + ": " + e.Wrapped.Error()
}

func (e *KindError) Unwrap() error { return e.Wrapped }

// New builds a KindError wrapping err under kind k.
func New(k Kind, err error) *KindError {
	return &KindError{K: k, Wrapped: err}
}

// Of reports the Kind carried by err, or "" if err does not carry one.
func Of(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.K
	}
	return ""
}
