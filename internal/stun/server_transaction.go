package stun

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"
)

// stState is the server transaction's lifecycle state (SPEC_FULL.md §3).
type stState int32

const (
	stNew stState = iota
	stResponded
	stExpired
)

// Server transaction errors.
var (
	ErrUnknownTransaction = errors.New("unknown server transaction")
	ErrAlreadyResponded   = errors.New("server transaction already responded")
)

// ServerTransaction caches a single request/response exchange for
// serverTransactionLifetime, retransmitting the cached response on any
// duplicate of the original request.
type ServerTransaction struct {
	ID         TransactionID
	LocalAddr  netip.AddrPort
	RemoteAddr netip.AddrPort

	sender PacketSender

	mu             sync.Mutex
	state          stState
	cachedResponse []byte
	lastRetransmit time.Time
	expireTimer    *time.Timer
}

func newServerTransaction(id TransactionID, local, remote netip.AddrPort, sender PacketSender, onExpire func()) *ServerTransaction {
	st := &ServerTransaction{
		ID:         id,
		LocalAddr:  local,
		RemoteAddr: remote,
		sender:     sender,
		state:      stNew,
	}
	st.expireTimer = time.AfterFunc(serverTransactionLifetime, func() {
		st.mu.Lock()
		st.state = stExpired
		st.mu.Unlock()
		onExpire()
	})
	return st
}

// Respond sets the cached response and sends it once. Fails with
// ErrAlreadyResponded if a response was already cached for this
// transaction.
func (st *ServerTransaction) Respond(ctx context.Context, resp *Message) error {
	raw, err := resp.Marshal()
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.state == stExpired {
		st.mu.Unlock()
		return ErrUnknownTransaction
	}
	if st.cachedResponse != nil {
		st.mu.Unlock()
		return ErrAlreadyResponded
	}
	st.cachedResponse = raw
	st.state = stResponded
	st.lastRetransmit = time.Now()
	st.mu.Unlock()

	return st.sender.SendPacket(ctx, raw, st.RemoteAddr)
}

// retransmitIfDue resends the cached response, but at most once per 100 ms
// (SPEC_FULL.md §8 idempotence property), to a duplicate of the original
// request. Reports whether a cached response existed at all (callers use
// this to decide whether to hand the duplicate to the user instead).
func (st *ServerTransaction) retransmitIfDue(ctx context.Context) (hadResponse bool) {
	st.mu.Lock()
	raw := st.cachedResponse
	due := raw != nil && time.Since(st.lastRetransmit) >= 100*time.Millisecond
	if due {
		st.lastRetransmit = time.Now()
	}
	st.mu.Unlock()

	if raw == nil {
		return false
	}
	if due {
		_ = st.sender.SendPacket(ctx, raw, st.RemoteAddr)
	}
	return true
}

func (st *ServerTransaction) stop() {
	st.expireTimer.Stop()
}
