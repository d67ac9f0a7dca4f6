package ptcp

import (
	"log/slog"
	"sync"
)

// Registry tracks every open Engine by conversation ID, for lookup by the
// network manager's dispatch path and for admin introspection (SPEC_FULL.md
// §6.1 "GET /v1/ptcp/conversations"). Grounded on the donor's mutex-guarded
// session-map construction (bfd.Manager's sessions map).
type Registry struct {
	mu      sync.Mutex
	engines map[uint32]*Engine
	logger  *slog.Logger
}

// NewRegistry builds an empty conversation registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		engines: make(map[uint32]*Engine),
		logger:  logger.With(slog.String("component", "ptcp.registry")),
	}
}

// Add registers e under its conversation ID, replacing any prior engine with
// the same ID.
func (r *Registry) Add(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Conversation] = e
}

// Remove drops the engine with the given conversation ID.
func (r *Registry) Remove(conversation uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, conversation)
}

// Lookup returns the engine registered under conversation, if any.
func (r *Registry) Lookup(conversation uint32) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[conversation]
	return e, ok
}

// Snapshots returns a point-in-time view of every registered engine.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(engines))
	for _, e := range engines {
		snaps = append(snaps, e.Snapshot())
	}
	return snaps
}

// Len reports the number of currently registered engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}
