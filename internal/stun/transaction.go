package stun

import (
	"context"
	"net/netip"
	"time"
)

// PacketSender is the per-socket send collaborator the transaction layer
// consumes; the network manager implements it. Grounded on the donor
// daemon's PacketSender interface decoupling session logic from socket
// ownership.
type PacketSender interface {
	SendPacket(ctx context.Context, buf []byte, dest netip.AddrPort) error
}

// ResponseEvent is delivered to a ResponseCollector's OnResponse callback.
type ResponseEvent struct {
	Message *Message
	From    netip.AddrPort
}

// ResponseCollector is the capability interface a caller supplies to
// SendRequest. Exactly one of its three methods fires over the life of a
// transaction, never more than once (SPEC_FULL.md §8).
type ResponseCollector interface {
	OnResponse(ev ResponseEvent)
	OnTimeout()
	OnUnreachable(reason error)
}

// CollectorFunc adapts three plain functions to a ResponseCollector. nil
// fields are treated as no-ops.
type CollectorFunc struct {
	Response    func(ResponseEvent)
	Timeout     func()
	Unreachable func(error)
}

func (c CollectorFunc) OnResponse(ev ResponseEvent) {
	if c.Response != nil {
		c.Response(ev)
	}
}

func (c CollectorFunc) OnTimeout() {
	if c.Timeout != nil {
		c.Timeout()
	}
}

func (c CollectorFunc) OnUnreachable(reason error) {
	if c.Unreachable != nil {
		c.Unreachable(reason)
	}
}

// clientRetransmitDeltas are the intervals between successive timer fires,
// starting from the moment the request is first sent. The first 8 fires are
// retransmissions (cumulative offsets 100, 300, 700, 1500, 3100, 4700, 6300,
// 7900 ms); the 9th fire, at cumulative 9500 ms, is the final timeout.
// Doubling is capped at 1600 ms (SPEC_FULL.md §4.2).
var clientRetransmitDeltas = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
	1600 * time.Millisecond,
	1600 * time.Millisecond,
	1600 * time.Millisecond,
	1600 * time.Millisecond,
}

// serverTransactionLifetime is deliberately greater than the client's total
// 9500 ms retransmission window so a response cached at t=0 still exists
// when the client's final retransmit arrives (SPEC_FULL.md §9).
const serverTransactionLifetime = 16 * time.Second

// serverKey identifies a server transaction by transaction ID plus the
// local listening address it arrived on (SPEC_FULL.md §3 invariant).
type serverKey struct {
	id    TransactionID
	local netip.AddrPort
}
