// Package admin implements natcore's plain-HTTP JSON introspection API
// (SPEC_FULL.md §6.1), replacing the generated-RPC control plane a sibling
// daemon in this lineage exposes.
package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/dantte-lp/natcore/internal/mux"
	"github.com/dantte-lp/natcore/internal/ptcp"
	"github.com/dantte-lp/natcore/internal/stun"
)

// Server serves the admin/introspection HTTP API over h2c, grounded on the
// donor daemon's handler/sentinel-error-mapping idiom
// (internal/server/server.go's mapManagerError pattern), but implemented
// as hand-written net/http handlers
// instead of generated ConnectRPC service code.
type Server struct {
	table    *stun.Table
	ptcp     *ptcp.Registry
	mux      *mux.Registry
	registry *prometheus.Registry
	logger   *slog.Logger
}

// New builds an admin Server and the *http.Server ready to listen at addr.
func New(
	addr, metricsPath string,
	table *stun.Table,
	ptcpRegistry *ptcp.Registry,
	muxRegistry *mux.Registry,
	reg *prometheus.Registry,
	logger *slog.Logger,
) *http.Server {
	s := &Server{
		table:    table,
		ptcp:     ptcpRegistry,
		mux:      muxRegistry,
		registry: reg,
		logger:   logger.With(slog.String("component", "admin.server")),
	}

	h := http.NewServeMux()
	h.HandleFunc("GET /v1/transactions", s.handleTransactions)
	h.HandleFunc("GET /v1/ptcp/conversations", s.handlePTCPConversations)
	h.HandleFunc("GET /v1/mux/listeners", s.handleMuxListeners)
	h.HandleFunc("GET /healthz", s.handleHealthz)
	h.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(h, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// JSON response types
// -------------------------------------------------------------------------

type clientTransactionJSON struct {
	ID     string `json:"id"`
	Dest   string `json:"dest"`
	Source string `json:"source"`
	State  string `json:"state"`
}

type serverTransactionJSON struct {
	ID         string `json:"id"`
	LocalAddr  string `json:"local_addr"`
	RemoteAddr string `json:"remote_addr"`
}

type transactionsResponse struct {
	Clients []clientTransactionJSON `json:"clients"`
	Servers []serverTransactionJSON `json:"servers"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	clients, servers := s.table.Snapshot()

	resp := transactionsResponse{
		Clients: make([]clientTransactionJSON, 0, len(clients)),
		Servers: make([]serverTransactionJSON, 0, len(servers)),
	}
	for _, c := range clients {
		resp.Clients = append(resp.Clients, clientTransactionJSON{
			ID:     fmt.Sprintf("%x", c.ID),
			Dest:   addrPortString(c.Dest),
			Source: addrPortString(c.Source),
			State:  c.State,
		})
	}
	for _, sv := range servers {
		resp.Servers = append(resp.Servers, serverTransactionJSON{
			ID:         fmt.Sprintf("%x", sv.ID),
			LocalAddr:  addrPortString(sv.LocalAddr),
			RemoteAddr: addrPortString(sv.RemoteAddr),
		})
	}

	s.writeJSON(w, resp)
}

type conversationJSON struct {
	Conversation  uint32 `json:"conversation"`
	Dest          string `json:"dest"`
	State         string `json:"state"`
	CWnd          uint32 `json:"cwnd"`
	SSThresh      uint32 `json:"ssthresh"`
	RTOMillis     int64  `json:"rto_ms"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

func (s *Server) handlePTCPConversations(w http.ResponseWriter, r *http.Request) {
	snaps := s.ptcp.Snapshots()

	resp := make([]conversationJSON, 0, len(snaps))
	for _, snap := range snaps {
		resp = append(resp, conversationJSON{
			Conversation:  snap.Conversation,
			Dest:          addrPortString(snap.Dest),
			State:         snap.State.String(),
			CWnd:          snap.CWnd,
			SSThresh:      snap.SSThresh,
			RTOMillis:     snap.RTO.Milliseconds(),
			BytesSent:     snap.BytesSent,
			BytesReceived: snap.BytesReceived,
		})
	}

	s.writeJSON(w, resp)
}

type acceptorJSON struct {
	Identity   string `json:"identity"`
	Classified int64  `json:"classified"`
}

type listenerJSON struct {
	Addr      string         `json:"addr"`
	Discarded int64          `json:"discarded"`
	Acceptors []acceptorJSON `json:"acceptors"`
}

func (s *Server) handleMuxListeners(w http.ResponseWriter, r *http.Request) {
	snaps := s.mux.Snapshots()

	resp := make([]listenerJSON, 0, len(snaps))
	for _, snap := range snaps {
		lj := listenerJSON{
			Addr:      snap.Addr,
			Discarded: snap.Discarded,
			Acceptors: make([]acceptorJSON, 0, len(snap.Acceptors)),
		}
		for _, a := range snap.Acceptors {
			lj.Acceptors = append(lj.Acceptors, acceptorJSON{
				Identity:   a.Identity,
				Classified: a.Classified,
			})
		}
		resp = append(resp, lj)
	}

	s.writeJSON(w, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", slog.Any("error", err))
	}
}

func addrPortString(ap netip.AddrPort) string {
	if !ap.IsValid() {
		return ""
	}
	return ap.String()
}
