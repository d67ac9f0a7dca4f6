package netmgr

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/dantte-lp/natcore/internal/stun"
)

// defaultWorkers matches SPEC_FULL.md §4.3's default worker-pool size.
const defaultWorkers = 3

// defaultQueueDepth bounds the shared decode/dispatch FIFO.
const defaultQueueDepth = 1024

// PayloadHandler receives non-STUN datagrams, e.g. the pseudo-TCP engine's
// segment demultiplexer. Returning false means the datagram was not claimed
// by any handler and is dropped.
type PayloadHandler interface {
	HandleDatagram(local, from netip.AddrPort, data []byte) bool
}

// PayloadHandlerFunc adapts a function to a PayloadHandler.
type PayloadHandlerFunc func(local, from netip.AddrPort, data []byte) bool

func (f PayloadHandlerFunc) HandleDatagram(local, from netip.AddrPort, data []byte) bool {
	return f(local, from, data)
}

// Manager owns the set of bound sockets, the shared decode/dispatch queue,
// and the worker pool draining it. Grounded on the donor daemon's receiver
// (internal/netio/receiver.go) generalized from one-goroutine-per-listener
// fan-in to a bounded-queue/worker-pool split, since SPEC_FULL.md §4.3 calls
// for a configurable worker count independent of the number of bound sockets.
type Manager struct {
	table   *stun.Table
	payload PayloadHandler
	logger  *slog.Logger
	workers int
	queue   chan Datagram

	mu         sync.Mutex
	connectors map[netip.AddrPort]*Connector
	cancels    map[netip.AddrPort]context.CancelFunc
	dropped    int64

	wg sync.WaitGroup
}

// ManagerOption configures optional Manager parameters.
type ManagerOption func(*Manager)

// WithWorkers overrides the default worker-pool size.
func WithWorkers(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithQueueDepth overrides the default shared-queue capacity.
func WithQueueDepth(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.queue = make(chan Datagram, n)
		}
	}
}

// NewManager builds a Manager bound to table for STUN dispatch and payload
// for everything else.
func NewManager(table *stun.Table, payload PayloadHandler, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		table:      table,
		payload:    payload,
		logger:     logger.With(slog.String("component", "netmgr.manager")),
		workers:    defaultWorkers,
		queue:      make(chan Datagram, defaultQueueDepth),
		connectors: make(map[netip.AddrPort]*Connector),
		cancels:    make(map[netip.AddrPort]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Listen binds a UDP socket at addr, registers it with the STUN transaction
// table, and starts its receive loop. The receive loop runs until ctx is
// cancelled or CloseListener is called for addr.
func (m *Manager) Listen(ctx context.Context, addr netip.AddrPort, opts ...ConnectorOption) error {
	conn, err := NewConnector(addr, m.logger, opts...)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.connectors[addr] = conn
	m.cancels[addr] = cancel
	m.mu.Unlock()

	m.table.BindSocket(addr, conn)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		receiveLoop(loopCtx, conn, m.queue, m.onDropped, m.logger)
		m.table.UnbindSocket(addr)
	}()

	return nil
}

// CloseListener stops and unbinds the socket at addr.
func (m *Manager) CloseListener(addr netip.AddrPort) error {
	m.mu.Lock()
	conn, ok := m.connectors[addr]
	cancel := m.cancels[addr]
	delete(m.connectors, addr)
	delete(m.cancels, addr)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	return conn.Close()
}

// Connector returns the bound connector for addr, if any, so callers (e.g.
// the pseudo-TCP engine) can send segments on the same socket STUN uses.
func (m *Manager) Connector(addr netip.AddrPort) (*Connector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connectors[addr]
	return c, ok
}

func (m *Manager) onDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

// Dropped reports the cumulative number of datagrams discarded because the
// shared queue was full.
func (m *Manager) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Run starts the worker pool and blocks until ctx is cancelled, then waits
// for receive loops and workers to exit.
func (m *Manager) Run(ctx context.Context) {
	var workerWG sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			m.worker(ctx)
		}()
	}

	<-ctx.Done()
	m.wg.Wait()
	workerWG.Wait()
}

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case dg := <-m.queue:
			m.dispatch(ctx, dg)
		}
	}
}

// dispatch decodes one datagram and routes it: STUN responses/requests go
// to the transaction table, everything else goes to the payload handler
// (SPEC_FULL.md §4.3's classify-then-dispatch step).
func (m *Manager) dispatch(ctx context.Context, dg Datagram) {
	msg, err := stun.Parse(dg.Data)
	if err != nil {
		if m.payload != nil {
			m.payload.HandleDatagram(dg.Local, dg.From, dg.Data)
		}
		return
	}

	switch msg.Class {
	case stun.ClassSuccessResponse, stun.ClassErrorResponse:
		m.table.DispatchResponse(msg, dg.From)
	case stun.ClassRequest, stun.ClassIndication:
		m.table.DispatchRequest(ctx, msg, dg.Local, dg.From)
	}
}
