package ptcp_test

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/natcore/internal/ptcp"
)

// pipeNotifier relays segments to a peer engine on a separate goroutine,
// avoiding re-entrant Lock calls on the same engine's mutex (WritePacket
// fires while the caller already holds it). Optionally drops the first N
// payload-bearing segments it forwards, to exercise the retransmit path.
type pipeNotifier struct {
	mu     sync.Mutex
	peer   *ptcp.Engine
	drop   int
	opened chan struct{}
	closed chan error
}

func newPipeNotifier() *pipeNotifier {
	return &pipeNotifier{
		opened: make(chan struct{}),
		closed: make(chan error, 1),
	}
}

func (n *pipeNotifier) WritePacket(data []byte, _ netip.AddrPort) ptcp.WriteResult {
	n.mu.Lock()
	peer := n.peer
	drop := false
	if n.drop > 0 && hasPayload(data) {
		n.drop--
		drop = true
	}
	n.mu.Unlock()

	if drop || peer == nil {
		return ptcp.WriteSuccess
	}

	cp := append([]byte(nil), data...)
	go peer.NotifyPacket(cp)
	return ptcp.WriteSuccess
}

func (n *pipeNotifier) TCPOpened()   { close(n.opened) }
func (n *pipeNotifier) TCPReadable() {}
func (n *pipeNotifier) TCPWritable() {}
func (n *pipeNotifier) TCPClosed(err error) {
	select {
	case n.closed <- err:
	default:
	}
}

// headerSizeForTest mirrors the package's unexported 24-byte segment
// header so the test can tell a data-bearing segment from a bare ack
// segment without reaching into package internals. Connect segments also
// carry a payload (their options) and are excluded by the control flag.
const headerSizeForTest = 24

func hasPayload(data []byte) bool {
	h, _, err := ptcp.DecodeHeader(data)
	return err == nil && !h.Control() && len(data) > headerSizeForTest
}

// driveClock runs an engine's external clock loop until ctx is cancelled,
// the shape cmd/natcorectl's standalone test client uses to drive
// NextClock/NotifyClock from outside the package.
func driveClock(ctx context.Context, wg *sync.WaitGroup, e *ptcp.Engine) {
	defer wg.Done()
	for {
		ms, ok := e.NextClock(time.Now())
		if !ok {
			return
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.NotifyClock(time.Now())
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineHandshakeAndTransfer(t *testing.T) {
	t.Parallel()

	dest := netip.MustParseAddrPort("127.0.0.1:0")
	nA := newPipeNotifier()
	nB := newPipeNotifier()

	engineA := ptcp.NewEngine(1, dest, nA, testLogger())
	engineB := ptcp.NewEngine(1, dest, nB, testLogger())
	nA.peer, nB.peer = engineB, engineA

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go driveClock(ctx, &wg, engineA)
	go driveClock(ctx, &wg, engineB)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	if err := engineA.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-nA.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("tcp_opened never fired on A")
	}

	payload := []byte("hello pseudo-tcp")
	n, err := engineA.Send(payload)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Send accepted %d bytes, want %d", n, len(payload))
	}

	buf := make([]byte, len(payload))
	n, err = engineB.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("Recv got %q, want %q", buf[:n], payload)
	}

	if got := engineA.State(); got != ptcp.StateEstablished {
		t.Errorf("engineA.State() = %v, want established", got)
	}
	if got := engineB.State(); got != ptcp.StateEstablished {
		t.Errorf("engineB.State() = %v, want established", got)
	}
}

func TestEngineTransferSurvivesOneLoss(t *testing.T) {
	t.Parallel()

	dest := netip.MustParseAddrPort("127.0.0.1:0")
	nA := newPipeNotifier()
	nB := newPipeNotifier()
	nA.drop = 1 // drop the first data-bearing segment A sends

	engineA := ptcp.NewEngine(2, dest, nA, testLogger())
	engineB := ptcp.NewEngine(2, dest, nB, testLogger())
	nA.peer, nB.peer = engineB, engineA

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go driveClock(ctx, &wg, engineA)
	go driveClock(ctx, &wg, engineB)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	if err := engineA.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-nA.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("tcp_opened never fired on A")
	}

	payload := []byte("retransmitted")
	if _, err := engineA.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, len(payload))
	done := make(chan struct{})
	var n int
	var recvErr error
	go func() {
		n, recvErr = engineB.Recv(buf)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("data segment never arrived despite retransmit")
	}
	if recvErr != nil {
		t.Fatalf("Recv: %v", recvErr)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("Recv got %q, want %q", buf[:n], payload)
	}
}
