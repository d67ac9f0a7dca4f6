// Package mux implements a shared TCP listening-endpoint demultiplexer
// (SPEC_FULL.md §4.5): a single accept loop per bound address, a per-mux
// read loop that peeks at each new connection's leading bytes, and a
// classifier list that routes the connection to the first matching
// acceptor. Grounded on the donor daemon's multi-listener fan-in goroutine
// management (internal/netio/receiver.go: one goroutine per listener,
// joined via a done channel) generalized from UDP receive to TCP
// accept+peek+classify.
package mux

import "errors"

// ErrDuplicateClassifier is returned by RegisterAcceptor when an acceptor
// with an equal classifier identity is already registered on the same
// listening address (SPEC_FULL.md §4.5/§9: symmetric-equality duplicate
// checks are normalized to a single comparable identity key).
var ErrDuplicateClassifier = errors.New("duplicate classifier on this endpoint")

// ErrNotBound names the mux "not bound" failure. Acceptor.Accept does not
// return it: Accept's only error is ErrClosed, including for a handle
// whose listener was closed.
var ErrNotBound = errors.New("mux listener not bound")

// ErrClosed is returned by Accept once the handle itself has been closed.
var ErrClosed = errors.New("mux handle closed")

// Classifier decides whether a connection's buffered leading bytes belong
// to its acceptor. Identity is the comparable key used for duplicate
// detection at registration; Match inspects the buffer accumulated so far.
type Classifier struct {
	Identity string
	Match    func(buffered []byte) (accept bool, needMore bool)
}

// PrefixClassifier builds a Classifier that accepts connections whose
// leading bytes equal prefix, and asks for more data while the buffer is
// still a strict prefix of prefix.
func PrefixClassifier(identity string, prefix []byte) Classifier {
	return Classifier{
		Identity: identity,
		Match: func(buffered []byte) (bool, bool) {
			n := len(prefix)
			if len(buffered) < n {
				for i, b := range buffered {
					if b != prefix[i] {
						return false, false
					}
				}
				return false, true
			}
			for i, b := range prefix {
				if buffered[i] != b {
					return false, false
				}
			}
			return true, false
		},
	}
}
