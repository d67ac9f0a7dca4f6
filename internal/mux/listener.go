package mux

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/natcore/internal/metrics"
)

// defaultBufCap is sized for the largest thing SPEC_FULL.md's classifiers
// need to see: an HTTP method plus space, or a TLS client hello's fixed
// prefix, whichever is larger — 16 bytes comfortably covers both with room
// for longer method names.
const defaultBufCap = 16

// Listener owns one bound TCP socket, its background accept loop, and the
// set of acceptors registered against it. Grounded on the donor daemon's
// per-listener construction shape (internal/netio/listener.go:
// NewListener/Close) generalized from UDP to TCP, with the per-connection
// classify loop run as one goroutine per accepted connection rather than a
// hand-rolled multiplexer — the idiomatic Go shape for "read until
// classified or discarded" work, matching the donor's general preference
// for one goroutine per unit of concurrent work over manual readiness
// polling.
type Listener struct {
	ln          net.Listener
	addr        string
	bufCap      int
	readTimeout time.Duration
	logger      *slog.Logger

	metrics *metrics.Collector

	mu        sync.Mutex
	acceptors []*registeredAcceptor
	closed    bool
	discarded atomic.Int64
}

type registeredAcceptor struct {
	classifier Classifier
	acceptor   *Acceptor
}

// ListenerOption configures optional Listener parameters.
type ListenerOption func(*Listener)

// WithBufCap overrides the classify buffer capacity.
func WithBufCap(n int) ListenerOption {
	return func(l *Listener) { l.bufCap = n }
}

// WithReadTimeout overrides the per-connection idle discard timeout.
func WithReadTimeout(d time.Duration) ListenerOption {
	return func(l *Listener) { l.readTimeout = d }
}

// WithMetrics attaches a Collector so accept/classify/discard outcomes are
// recorded going forward.
func WithMetrics(c *metrics.Collector) ListenerOption {
	return func(l *Listener) { l.metrics = c }
}

// NewListener binds a TCP socket at addr via net.Listen (the system default
// backlog; no backlog option exists) and returns a Listener ready for
// RegisterAcceptor calls and Run.
func NewListener(addr string, logger *slog.Logger, opts ...ListenerOption) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		ln:          ln,
		addr:        addr,
		bufCap:      defaultBufCap,
		readTimeout: 5 * time.Second,
		logger:      logger.With(slog.String("component", "mux.listener"), slog.String("addr", addr)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// RegisterAcceptor adds a classifier/acceptor pair to this listener. Fails
// with ErrDuplicateClassifier if an acceptor with the same classifier
// identity is already registered (SPEC_FULL.md §3 invariant).
func (l *Listener) RegisterAcceptor(c Classifier) (*Acceptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ra := range l.acceptors {
		if ra.classifier.Identity == c.Identity {
			return nil, ErrDuplicateClassifier
		}
	}

	acc := newAcceptor(c)
	l.acceptors = append(l.acceptors, &registeredAcceptor{classifier: c, acceptor: acc})
	return acc, nil
}

// Run drives the background accept loop until ctx is cancelled or the
// listener is closed.
func (l *Listener) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			l.logger.Warn("accept error", slog.Any("error", err))
			continue
		}
		if l.metrics != nil {
			l.metrics.RecordMuxAccepted(l.addr)
		}
		go l.classify(conn)
	}
}

// classify is the per-connection read-and-classify loop (SPEC_FULL.md
// §4.5's "per-mux read loop" adapted to one goroutine per connection).
func (l *Listener) classify(conn net.Conn) {
	buf := make([]byte, 0, l.bufCap)
	tmp := make([]byte, l.bufCap)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			_ = conn.Close()
			return
		}

		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}

		if matched := l.tryClassify(conn, buf); matched {
			return
		}

		if err != nil || len(buf) >= l.bufCap {
			l.discard(conn, buf)
			return
		}
	}
}

// tryClassify offers buf to each registered classifier in registration
// order and delivers the connection to the first match.
func (l *Listener) tryClassify(conn net.Conn, buf []byte) bool {
	l.mu.Lock()
	acceptors := make([]*registeredAcceptor, len(l.acceptors))
	copy(acceptors, l.acceptors)
	l.mu.Unlock()

	for _, ra := range acceptors {
		accept, _ := ra.classifier.Match(buf)
		if accept {
			held := make([]byte, len(buf))
			copy(held, buf)
			ra.acceptor.deliver(newPrereadConn(conn, held))
			if l.metrics != nil {
				l.metrics.RecordMuxClassified(l.addr, ra.classifier.Identity)
			}
			return true
		}
	}
	return false
}

func (l *Listener) discard(conn net.Conn, buf []byte) {
	_ = conn.Close()
	l.discarded.Add(1)
	if l.metrics != nil {
		l.metrics.RecordMuxDiscarded(l.addr)
	}
	l.logger.Debug("connection discarded", slog.Int("buffered", len(buf)))
}

// Discarded reports the cumulative count of connections closed by
// buffer-full or read-timeout discard (SPEC_FULL.md §4.5.1).
func (l *Listener) Discarded() int64 { return l.discarded.Load() }

// Addr returns the bound socket address, which may differ from the
// configured endpoint string when it requested an OS-assigned port (":0").
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// AcceptorSnapshot is a point-in-time view of one registered acceptor.
type AcceptorSnapshot struct {
	Identity   string
	Classified int64
}

// ListenerSnapshot is a point-in-time view of one listener and its
// registered acceptors, used by the admin introspection surface
// (SPEC_FULL.md §6.1 "GET /v1/mux/listeners").
type ListenerSnapshot struct {
	Addr      string
	Discarded int64
	Acceptors []AcceptorSnapshot
}

// Snapshot returns a point-in-time view of this listener.
func (l *Listener) Snapshot() ListenerSnapshot {
	l.mu.Lock()
	acceptors := make([]*registeredAcceptor, len(l.acceptors))
	copy(acceptors, l.acceptors)
	l.mu.Unlock()

	snap := ListenerSnapshot{
		Addr:      l.addr,
		Discarded: l.Discarded(),
		Acceptors: make([]AcceptorSnapshot, 0, len(acceptors)),
	}
	for _, ra := range acceptors {
		snap.Acceptors = append(snap.Acceptors, AcceptorSnapshot{
			Identity:   ra.acceptor.Identity(),
			Classified: ra.acceptor.Classified(),
		})
	}
	return snap
}

// Close closes the underlying listener and every registered acceptor.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	acceptors := make([]*registeredAcceptor, len(l.acceptors))
	copy(acceptors, l.acceptors)
	l.mu.Unlock()

	for _, ra := range acceptors {
		ra.acceptor.Close()
	}
	return l.ln.Close()
}
