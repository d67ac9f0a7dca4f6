package stun

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/dantte-lp/natcore/internal/metrics"
)

// Errors returned by Table operations.
var (
	ErrInvalidSource = errors.New("no socket bound at source address")
	ErrNoListener    = errors.New("no request listener registered for local address")
)

// RequestListener receives newly-arrived STUN requests (after the §4.2
// validation pipeline passes) and server-transaction duplicates that have
// not yet been responded to. Implementations call tx.Respond to answer.
type RequestListener interface {
	HandleRequest(tx *ServerTransaction, req *Message)
}

// RequestListenerFunc adapts a plain function to a RequestListener.
type RequestListenerFunc func(tx *ServerTransaction, req *Message)

func (f RequestListenerFunc) HandleRequest(tx *ServerTransaction, req *Message) { f(tx, req) }

// Table maps transaction IDs to client or server transactions (SPEC_FULL.md
// §4.2), keyed for client transactions by ID alone and for server
// transactions by (ID, local address), grounded on the donor daemon's
// two-tier session lookup (by discriminator, by peer key) that avoids
// cyclic ownership by keying on stable identifiers instead of pointers.
type Table struct {
	logger  *slog.Logger
	creds   Credentials
	metrics *metrics.Collector

	mu       sync.Mutex
	clients  map[TransactionID]*ClientTransaction
	servers  map[serverKey]*ServerTransaction
	senders  map[netip.AddrPort]PacketSender
	listenAt map[netip.AddrPort]RequestListener
	anyAddr  RequestListener
}

// NewTable builds an empty transaction table.
func NewTable(creds Credentials, logger *slog.Logger) *Table {
	return &Table{
		logger:   logger.With(slog.String("component", "stun.table")),
		creds:    creds,
		clients:  make(map[TransactionID]*ClientTransaction),
		servers:  make(map[serverKey]*ServerTransaction),
		senders:  make(map[netip.AddrPort]PacketSender),
		listenAt: make(map[netip.AddrPort]RequestListener),
	}
}

// AttachMetrics wires a Collector so transaction counts, retransmits,
// timeouts, and auth failures are recorded going forward. Safe to call
// once, before the table starts processing requests.
func (t *Table) AttachMetrics(c *metrics.Collector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = c
}

// BindSocket associates a local address with the PacketSender used to
// transmit from it. SendRequest fails with ErrInvalidSource until the
// source address has been bound.
func (t *Table) BindSocket(addr netip.AddrPort, sender PacketSender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.senders[addr] = sender
}

// UnbindSocket removes a socket's sender and cancels every transaction
// bound to it (SPEC_FULL.md §4.3: "On any connector I/O error the socket is
// removed and all transactions bound to it are cancelled").
func (t *Table) UnbindSocket(addr netip.AddrPort) {
	delete(t.senders, addr)
	_ = t.CancelForAddress(addr)
}

// RegisterRequestListener registers a listener for incoming requests on a
// specific local address, or for all addresses if addr is the zero value.
func (t *Table) RegisterRequestListener(addr netip.AddrPort, listener RequestListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !addr.IsValid() {
		t.anyAddr = listener
		return
	}
	t.listenAt[addr] = listener
}

// SendRequest constructs a client transaction, sends the first copy of
// request immediately, and returns its transaction ID. request must already
// carry the desired attributes (including MESSAGE-INTEGRITY, if any); its
// TransactionID field is overwritten with a freshly generated ID.
func (t *Table) SendRequest(
	ctx context.Context,
	request *Message,
	destination, source netip.AddrPort,
	collector ResponseCollector,
) (TransactionID, error) {
	t.mu.Lock()
	sender, ok := t.senders[source]
	t.mu.Unlock()
	if !ok {
		return TransactionID{}, ErrInvalidSource
	}

	id, err := NewTransactionID()
	if err != nil {
		return TransactionID{}, err
	}
	request.TransactionID = id

	raw, err := request.Marshal()
	if err != nil {
		return TransactionID{}, err
	}

	ct := newClientTransaction(id, raw, destination, source, collector, sender, t.logger, t.metrics)

	t.mu.Lock()
	t.clients[id] = ct
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.STUNClientTransactions.Inc()
	}

	go func() {
		ct.run(ctx)
		t.mu.Lock()
		delete(t.clients, id)
		t.mu.Unlock()
		if t.metrics != nil {
			t.metrics.STUNClientTransactions.Dec()
		}
	}()

	return id, nil
}

// Cancel suppresses further retransmissions and the eventual timeout
// notification for a client transaction. Idempotent; a no-op if id is
// unknown or already terminal.
func (t *Table) Cancel(id TransactionID) {
	t.mu.Lock()
	ct := t.clients[id]
	t.mu.Unlock()
	if ct != nil {
		ct.cancel()
	}
}

// CancelForAddress cancels every client transaction whose source address
// equals addr and expires every server transaction whose local listening
// address equals addr. Synchronous: once it returns, no further callback
// fires for any of the cancelled transactions' collectors.
func (t *Table) CancelForAddress(addr netip.AddrPort) error {
	t.mu.Lock()
	var toCancel []*ClientTransaction
	for _, ct := range t.clients {
		if ct.Source == addr {
			toCancel = append(toCancel, ct)
		}
	}
	var toExpire []*ServerTransaction
	for k, st := range t.servers {
		if k.local == addr {
			toExpire = append(toExpire, st)
			delete(t.servers, k)
		}
	}
	t.mu.Unlock()

	for _, ct := range toCancel {
		ct.cancel()
	}
	for _, st := range toExpire {
		st.stop()
	}
	if t.metrics != nil && len(toExpire) > 0 {
		t.metrics.STUNServerTransactions.Sub(float64(len(toExpire)))
	}
	return nil
}

// DispatchResponse routes an inbound STUN response to its client
// transaction by transaction ID, dropping it silently if there is no
// match (SPEC_FULL.md §4.3).
func (t *Table) DispatchResponse(resp *Message, from netip.AddrPort) {
	t.mu.Lock()
	ct := t.clients[resp.TransactionID]
	t.mu.Unlock()
	if ct == nil {
		return
	}
	ct.deliverResponse(resp)
}

// DispatchUnreachable notifies the client transaction with the given id (if
// any) that the transport reported its destination unreachable.
func (t *Table) DispatchUnreachable(id TransactionID, reason error) {
	t.mu.Lock()
	ct := t.clients[id]
	t.mu.Unlock()
	if ct == nil {
		return
	}
	ct.deliverUnreachable(reason)
}

// DispatchRequest routes an inbound STUN request (SPEC_FULL.md §4.3): an
// existing matching server transaction retransmits its cached response (or,
// if none is cached yet, hands the duplicate back to the listener); a new
// transaction is created, validated, and—on success—delivered to the
// registered listener for localAddr.
func (t *Table) DispatchRequest(ctx context.Context, req *Message, localAddr, from netip.AddrPort) {
	key := serverKey{id: req.TransactionID, local: localAddr}

	t.mu.Lock()
	existing, ok := t.servers[key]
	sender := t.senders[localAddr]
	t.mu.Unlock()

	if ok && existing.RemoteAddr == from {
		if existing.retransmitIfDue(ctx) {
			return
		}
		// No cached response yet: hand the duplicate back to the listener.
		t.deliverToListener(existing, req, localAddr)
		return
	}

	if sender == nil {
		return
	}

	st := newServerTransaction(req.TransactionID, localAddr, from, sender, func() {
		t.mu.Lock()
		delete(t.servers, key)
		t.mu.Unlock()
		if t.metrics != nil {
			t.metrics.STUNServerTransactions.Dec()
		}
	})

	t.mu.Lock()
	t.servers[key] = st
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.STUNServerTransactions.Inc()
	}

	ok, errResp, code := validateRequest(req, t.creds)
	if !ok {
		if t.metrics != nil {
			t.metrics.RecordSTUNAuthFailure(code)
		}
		_ = st.Respond(ctx, errResp)
		return
	}

	t.deliverToListener(st, req, localAddr)
}

// ClientTransactionSnapshot is a point-in-time view of one client
// transaction, used by the admin introspection surface (SPEC_FULL.md §6.1).
type ClientTransactionSnapshot struct {
	ID     TransactionID
	Dest   netip.AddrPort
	Source netip.AddrPort
	State  string
}

// ServerTransactionSnapshot is a point-in-time view of one server
// transaction.
type ServerTransactionSnapshot struct {
	ID         TransactionID
	LocalAddr  netip.AddrPort
	RemoteAddr netip.AddrPort
}

// Snapshot returns a point-in-time view of every live client and server
// transaction (SPEC_FULL.md §6.1 "GET /v1/transactions").
func (t *Table) Snapshot() (clients []ClientTransactionSnapshot, servers []ServerTransactionSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ct := range t.clients {
		clients = append(clients, ClientTransactionSnapshot{
			ID:     id,
			Dest:   ct.Dest,
			Source: ct.Source,
			State:  ctStateString(ct.State()),
		})
	}
	for key, st := range t.servers {
		servers = append(servers, ServerTransactionSnapshot{
			ID:         key.id,
			LocalAddr:  st.LocalAddr,
			RemoteAddr: st.RemoteAddr,
		})
	}
	return clients, servers
}

func ctStateString(s ctState) string {
	switch s {
	case ctWaiting:
		return "waiting-for-response"
	case ctCancelled:
		return "cancelled"
	case ctCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func (t *Table) deliverToListener(st *ServerTransaction, req *Message, localAddr netip.AddrPort) {
	t.mu.Lock()
	listener, ok := t.listenAt[localAddr]
	if !ok {
		listener = t.anyAddr
	}
	t.mu.Unlock()

	if listener == nil {
		t.logger.Debug("no listener for request", slog.String("local", localAddr.String()))
		return
	}
	listener.HandleRequest(st, req)
}
