package stun_test

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/natcore/internal/stun"
)

// recordingSender captures every packet handed to SendPacket, optionally
// forwarding it to a peer table as though it crossed the wire.
type recordingSender struct {
	mu      sync.Mutex
	packets [][]byte
	peer    *stun.Table
	local   netip.AddrPort
	remote  netip.AddrPort
}

func (s *recordingSender) SendPacket(ctx context.Context, buf []byte, dest netip.AddrPort) error {
	s.mu.Lock()
	cp := append([]byte(nil), buf...)
	s.packets = append(s.packets, cp)
	peer := s.peer
	s.mu.Unlock()

	if peer == nil {
		return nil
	}
	msg, err := stun.Parse(cp)
	if err != nil {
		return nil
	}
	switch msg.Class {
	case stun.ClassRequest:
		peer.DispatchRequest(ctx, msg, s.remote, s.local)
	default:
		peer.DispatchResponse(msg, s.local)
	}
	return nil
}

type staticCreds struct {
	username string
	key      []byte
}

func (c staticCreds) LocalKey(username string) ([]byte, bool) {
	if username != c.username {
		return nil, false
	}
	return c.key, true
}

func (c staticCreds) CheckLocalUsername(username string) bool { return username == c.username }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedBindingRequest(t *testing.T, username string, key []byte) *stun.Message {
	t.Helper()
	id, err := stun.NewTransactionID()
	if err != nil {
		t.Fatalf("NewTransactionID: %v", err)
	}
	req := &stun.Message{
		Class:         stun.ClassRequest,
		Method:        stun.MethodBinding,
		TransactionID: id,
		Attributes: []stun.Attribute{
			{Type: stun.AttrUsername, Value: []byte(username)},
		},
	}
	if _, err := req.Marshal(); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := stun.AddMessageIntegrity(req, key); err != nil {
		t.Fatalf("AddMessageIntegrity: %v", err)
	}
	// Re-parse so Raw reflects the finalized (integrity-bearing) encoding,
	// matching what a real server-side Parse off the wire would see.
	raw, err := req.Marshal()
	if err != nil {
		t.Fatalf("re-Marshal: %v", err)
	}
	parsed, err := stun.Parse(raw)
	if err != nil {
		t.Fatalf("re-Parse: %v", err)
	}
	return parsed
}

// TestTransactionRoundTrip exercises a full client-to-server Binding
// request/response exchange across two independent Tables, the topology
// SPEC_FULL.md §8's "transaction success" scenario describes.
func TestTransactionRoundTrip(t *testing.T) {
	t.Parallel()

	key := []byte("shared-secret")
	creds := staticCreds{username: "alice", key: key}

	clientAddr := netip.MustParseAddrPort("127.0.0.1:40001")
	serverAddr := netip.MustParseAddrPort("127.0.0.1:40002")

	serverTable := stun.NewTable(creds, testLogger())
	clientTable := stun.NewTable(creds, testLogger())

	serverSender := &recordingSender{peer: clientTable, local: serverAddr, remote: clientAddr}
	clientSender := &recordingSender{peer: serverTable, local: clientAddr, remote: serverAddr}
	serverTable.BindSocket(serverAddr, serverSender)
	clientTable.BindSocket(clientAddr, clientSender)

	serverTable.RegisterRequestListener(serverAddr, stun.RequestListenerFunc(
		func(tx *stun.ServerTransaction, req *stun.Message) {
			resp := &stun.Message{
				Class:         stun.ClassSuccessResponse,
				Method:        stun.MethodBinding,
				TransactionID: req.TransactionID,
			}
			if err := tx.Respond(context.Background(), resp); err != nil {
				t.Errorf("Respond: %v", err)
			}
		},
	))

	req := signedBindingRequest(t, "alice", key)

	done := make(chan struct{})
	var gotResponse bool
	collector := stun.CollectorFunc{
		Response: func(ev stun.ResponseEvent) {
			gotResponse = true
			close(done)
		},
		Timeout:     func() { close(done) },
		Unreachable: func(error) { close(done) },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := clientTable.SendRequest(ctx, req, serverAddr, clientAddr, collector); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("transaction never completed")
	}

	if !gotResponse {
		t.Fatal("expected OnResponse to fire, got timeout/unreachable instead")
	}
}

// TestDispatchRequestRejectsMissingIntegrity covers SPEC_FULL.md §4.2's
// validation pipeline: a request with no MESSAGE-INTEGRITY is answered
// with a synchronous 401 and never reaches the registered listener.
func TestDispatchRequestRejectsMissingIntegrity(t *testing.T) {
	t.Parallel()

	creds := staticCreds{username: "alice", key: []byte("shared-secret")}
	table := stun.NewTable(creds, testLogger())

	local := netip.MustParseAddrPort("127.0.0.1:40003")
	remote := netip.MustParseAddrPort("127.0.0.1:40004")
	sender := &recordingSender{local: local, remote: remote}
	table.BindSocket(local, sender)

	var delivered bool
	table.RegisterRequestListener(local, stun.RequestListenerFunc(
		func(tx *stun.ServerTransaction, req *stun.Message) { delivered = true },
	))

	id, err := stun.NewTransactionID()
	if err != nil {
		t.Fatalf("NewTransactionID: %v", err)
	}
	req := &stun.Message{Class: stun.ClassRequest, Method: stun.MethodBinding, TransactionID: id}
	raw, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := stun.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	table.DispatchRequest(context.Background(), parsed, local, remote)

	if delivered {
		t.Fatal("request without MESSAGE-INTEGRITY reached the listener")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.packets) != 1 {
		t.Fatalf("got %d response packets, want 1", len(sender.packets))
	}
	resp, err := stun.Parse(sender.packets[0])
	if err != nil {
		t.Fatalf("Parse response: %v", err)
	}
	if resp.Class != stun.ClassErrorResponse {
		t.Fatalf("response class = %v, want error-response", resp.Class)
	}
	codeAttr, ok := resp.GetAttribute(stun.AttrErrorCode)
	if !ok {
		t.Fatal("response missing ERROR-CODE attribute")
	}
	if len(codeAttr.Value) < 4 || int(codeAttr.Value[2])*100+int(codeAttr.Value[3]) != stun.CodeUnauthorized {
		t.Fatalf("unexpected ERROR-CODE payload: %x", codeAttr.Value)
	}
}

// TestDispatchRequestAcceptsCombinedUsername covers SPEC_FULL.md §8
// literal scenario 6: a combined ICE-style USERNAME ("alice:xyz") must
// resolve against the bare local username at both the presence check and
// the MESSAGE-INTEGRITY key lookup, not just the latter.
func TestDispatchRequestAcceptsCombinedUsername(t *testing.T) {
	t.Parallel()

	key := []byte("shared-secret")
	creds := staticCreds{username: "alice", key: key}
	table := stun.NewTable(creds, testLogger())

	local := netip.MustParseAddrPort("127.0.0.1:40007")
	remote := netip.MustParseAddrPort("127.0.0.1:40008")
	sender := &recordingSender{local: local, remote: remote}
	table.BindSocket(local, sender)

	var delivered bool
	table.RegisterRequestListener(local, stun.RequestListenerFunc(
		func(tx *stun.ServerTransaction, req *stun.Message) {
			delivered = true
			resp := &stun.Message{Class: stun.ClassSuccessResponse, Method: stun.MethodBinding, TransactionID: req.TransactionID}
			if err := tx.Respond(context.Background(), resp); err != nil {
				t.Errorf("Respond: %v", err)
			}
		},
	))

	req := signedBindingRequest(t, "alice:xyz", key)
	table.DispatchRequest(context.Background(), req, local, remote)

	if !delivered {
		t.Fatal("request with combined username alice:xyz was rejected instead of delivered")
	}
}

// TestDispatchRequestDuplicateRetransmitsCachedResponse covers the
// idempotence property from SPEC_FULL.md §8: a duplicate of an
// already-answered request goes to the cached-response retransmit path
// rather than being redelivered to the listener a second time; arriving
// within the 100 ms retransmit floor, it triggers no second send.
func TestDispatchRequestDuplicateRetransmitsCachedResponse(t *testing.T) {
	t.Parallel()

	key := []byte("shared-secret")
	creds := staticCreds{username: "alice", key: key}
	table := stun.NewTable(creds, testLogger())

	local := netip.MustParseAddrPort("127.0.0.1:40005")
	remote := netip.MustParseAddrPort("127.0.0.1:40006")
	sender := &recordingSender{local: local, remote: remote}
	table.BindSocket(local, sender)

	var deliveries int
	table.RegisterRequestListener(local, stun.RequestListenerFunc(
		func(tx *stun.ServerTransaction, req *stun.Message) {
			deliveries++
			resp := &stun.Message{Class: stun.ClassSuccessResponse, Method: stun.MethodBinding, TransactionID: req.TransactionID}
			if err := tx.Respond(context.Background(), resp); err != nil {
				t.Errorf("Respond: %v", err)
			}
		},
	))

	req := signedBindingRequest(t, "alice", key)

	table.DispatchRequest(context.Background(), req, local, remote)
	table.DispatchRequest(context.Background(), req, local, remote)

	if deliveries != 1 {
		t.Fatalf("listener invoked %d times, want 1", deliveries)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.packets) != 1 {
		t.Fatalf("got %d response packets, want 1 (second duplicate arrived within the 100ms retransmit floor)", len(sender.packets))
	}
}
