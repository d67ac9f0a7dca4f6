package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// apiClient is a thin wrapper over net/http for natcored's admin JSON API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// --- view types mirroring internal/admin's JSON wire shapes ---

type clientTransactionView struct {
	ID     string `json:"id"`
	Dest   string `json:"dest"`
	Source string `json:"source"`
	State  string `json:"state"`
}

type serverTransactionView struct {
	ID         string `json:"id"`
	LocalAddr  string `json:"local_addr"`
	RemoteAddr string `json:"remote_addr"`
}

type transactionsView struct {
	Clients []clientTransactionView `json:"clients"`
	Servers []serverTransactionView `json:"servers"`
}

type conversationView struct {
	Conversation  uint32 `json:"conversation"`
	Dest          string `json:"dest"`
	State         string `json:"state"`
	CWnd          uint32 `json:"cwnd"`
	SSThresh      uint32 `json:"ssthresh"`
	RTOMillis     int64  `json:"rto_ms"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

type acceptorView struct {
	Identity   string `json:"identity"`
	Classified int64  `json:"classified"`
}

type listenerView struct {
	Addr      string         `json:"addr"`
	Discarded int64          `json:"discarded"`
	Acceptors []acceptorView `json:"acceptors"`
}

func (c *apiClient) Transactions(ctx context.Context) (transactionsView, error) {
	var v transactionsView
	err := c.getJSON(ctx, "/v1/transactions", &v)
	return v, err
}

func (c *apiClient) PTCPConversations(ctx context.Context) ([]conversationView, error) {
	var v []conversationView
	err := c.getJSON(ctx, "/v1/ptcp/conversations", &v)
	return v, err
}

func (c *apiClient) MuxListeners(ctx context.Context) ([]listenerView, error) {
	var v []listenerView
	err := c.getJSON(ctx, "/v1/mux/listeners", &v)
	return v, err
}
