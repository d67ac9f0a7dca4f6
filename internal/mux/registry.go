package mux

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Registry implements open_and_bind (SPEC_FULL.md §4.5): it shares one
// Listener across every open_and_bind call whose endpoint resolves to the
// same bound address, including the any-address wildcard case, and binds a
// fresh Listener otherwise.
type Registry struct {
	mu        sync.Mutex
	listeners map[string]*Listener
	logger    *slog.Logger
}

// NewRegistry builds an empty mux registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		listeners: make(map[string]*Listener),
		logger:    logger.With(slog.String("component", "mux.registry")),
	}
}

// OpenAndBind registers classifier against the listener bound to endpoint,
// creating one if none exists yet (or if none matches via wildcard), and
// returns the acceptor handle.
func (r *Registry) OpenAndBind(ctx context.Context, endpoint string, classifier Classifier, opts ...ListenerOption) (*Acceptor, error) {
	r.mu.Lock()

	ln, ok := r.listeners[endpoint]
	if !ok {
		ln = r.findWildcardMatchLocked(endpoint)
	}

	if ln == nil {
		var err error
		ln, err = NewListener(endpoint, r.logger, opts...)
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("open_and_bind %s: %w", endpoint, err)
		}
		r.listeners[endpoint] = ln
		go ln.Run(ctx)
	}
	r.mu.Unlock()

	return ln.RegisterAcceptor(classifier)
}

// findWildcardMatchLocked returns an existing listener bound to the
// any-address whose port equals endpoint's port, per SPEC_FULL.md §4.5
// ("including wildcard match where the existing listener is bound to the
// any-address and port matches"). Must be called with r.mu held.
func (r *Registry) findWildcardMatchLocked(endpoint string) *Listener {
	_, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil
	}
	for addr, ln := range r.listeners {
		host, lnPort, err := net.SplitHostPort(addr)
		if err != nil || lnPort != port {
			continue
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			return ln
		}
	}
	return nil
}

// Snapshots returns a point-in-time view of every bound listener.
func (r *Registry) Snapshots() []ListenerSnapshot {
	r.mu.Lock()
	listeners := make([]*Listener, 0, len(r.listeners))
	for _, ln := range r.listeners {
		listeners = append(listeners, ln)
	}
	r.mu.Unlock()

	snaps := make([]ListenerSnapshot, 0, len(listeners))
	for _, ln := range listeners {
		snaps = append(snaps, ln.Snapshot())
	}
	return snaps
}

// Close closes every bound listener.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ln := range r.listeners {
		_ = ln.Close()
	}
	return nil
}
