package stun

import (
	"context"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/natcore/internal/metrics"
)

// ctState is the client transaction's lifecycle state (SPEC_FULL.md §3).
type ctState int32

const (
	ctWaiting ctState = iota
	ctCancelled
	ctCompleted
)

// ClientTransaction retransmits a request on the fixed ladder in
// clientRetransmitDeltas until a matching response arrives, the transport
// reports unreachable, it is cancelled, or it times out. It self-drives via
// one goroutine per transaction (started by Table.SendRequest), grounded on
// the donor daemon's one-goroutine-per-session, timer-driven design.
type ClientTransaction struct {
	ID      TransactionID
	Request []byte
	Dest    netip.AddrPort
	Source  netip.AddrPort

	collector ResponseCollector
	sender    PacketSender
	logger    *slog.Logger
	metrics   *metrics.Collector

	state atomic.Int32

	responseCh    chan *Message
	unreachableCh chan error
	cancelCh      chan struct{}
	doneCh        chan struct{}
}

func newClientTransaction(
	id TransactionID,
	req []byte,
	dest, source netip.AddrPort,
	collector ResponseCollector,
	sender PacketSender,
	logger *slog.Logger,
	metrics *metrics.Collector,
) *ClientTransaction {
	return &ClientTransaction{
		ID:            id,
		Request:       req,
		Dest:          dest,
		Source:        source,
		collector:     collector,
		sender:        sender,
		logger:        logger.With(slog.String("component", "stun.client_transaction")),
		metrics:       metrics,
		responseCh:    make(chan *Message, 1),
		unreachableCh: make(chan error, 1),
		cancelCh:      make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// State returns the transaction's current lifecycle state.
func (ct *ClientTransaction) State() ctState {
	return ctState(ct.state.Load())
}

// deliverResponse hands a matching response to the transaction's goroutine.
// Non-blocking: a second response for an already-completing transaction is
// dropped.
func (ct *ClientTransaction) deliverResponse(m *Message) {
	select {
	case ct.responseCh <- m:
	default:
	}
}

// deliverUnreachable hands a transport-reported ICMP unreachable to the
// transaction's goroutine.
func (ct *ClientTransaction) deliverUnreachable(reason error) {
	select {
	case ct.unreachableCh <- reason:
	default:
	}
}

// cancel suppresses further retransmissions and the eventual timeout
// notification. Idempotent.
func (ct *ClientTransaction) cancel() {
	if ct.state.CompareAndSwap(int32(ctWaiting), int32(ctCancelled)) {
		close(ct.cancelCh)
	}
}

// run drives the retransmission ladder. It sends the first copy of the
// request itself (so callers only need to construct the transaction), then
// retransmits per clientRetransmitDeltas, and returns once exactly one of
// OnResponse/OnTimeout/OnUnreachable has fired, or the transaction is
// cancelled (in which case none fire, per SPEC_FULL.md §8).
func (ct *ClientTransaction) run(ctx context.Context) {
	defer close(ct.doneCh)

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := ct.sender.SendPacket(sendCtx, ct.Request, ct.Dest); err != nil {
		ct.logger.Debug("initial send failed", slog.Any("error", err))
	}

	timer := time.NewTimer(clientRetransmitDeltas[0])
	defer timer.Stop()

	// cancelCh is read at most once: a closed channel would otherwise be
	// selectable on every loop iteration and starve the timer case.
	cancelCh := ct.cancelCh

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return

		case <-cancelCh:
			// Linger silently on the same schedule until the final offset,
			// then terminate without notifying the collector.
			cancelCh = nil

		case resp := <-ct.responseCh:
			if ct.state.CompareAndSwap(int32(ctWaiting), int32(ctCompleted)) {
				ct.collector.OnResponse(ResponseEvent{Message: resp})
			}
			return

		case reason := <-ct.unreachableCh:
			if ct.state.CompareAndSwap(int32(ctWaiting), int32(ctCompleted)) {
				ct.collector.OnUnreachable(reason)
			}
			return

		case <-timer.C:
			final := idx == len(clientRetransmitDeltas)-1
			if final {
				if ct.state.CompareAndSwap(int32(ctWaiting), int32(ctCompleted)) {
					if ct.metrics != nil {
						ct.metrics.STUNTimeouts.Inc()
					}
					ct.collector.OnTimeout()
				} else {
					ct.state.CompareAndSwap(int32(ctCancelled), int32(ctCompleted))
				}
				return
			}

			idx++
			if ct.State() == ctWaiting {
				if err := ct.sender.SendPacket(sendCtx, ct.Request, ct.Dest); err != nil {
					ct.logger.Debug("retransmit failed", slog.Any("error", err))
				}
				if ct.metrics != nil {
					ct.metrics.STUNRetransmits.Inc()
				}
			}
			timer.Reset(clientRetransmitDeltas[idx])
		}
	}
}
