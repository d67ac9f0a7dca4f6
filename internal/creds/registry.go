// Package creds implements the credentials collaborator the STUN
// transaction layer consumes for MESSAGE-INTEGRITY key lookup: a
// YAML-backed long-term store loaded once at startup, plus an in-memory
// short-term store for ephemeral ICE-style connectivity-check credentials.
// Grounded on the donor BFD daemon's AuthKeyStore interface and key-lookup
// pattern (internal/bfd/auth.go).
package creds

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// fileEntries is the on-disk shape of the long-term credentials file:
// a flat mapping of username to pre-shared key (UTF-8; callers that need
// binary keys should use base64 and decode at lookup time upstream of this
// package — kept simple to match the registry's two-operation contract).
type fileEntries map[string]string

// Registry answers the two operations the transaction layer needs:
// LocalKey and CheckLocalUsername. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	longTerm   map[string][]byte
	shortTerm  map[string][]byte
}

// NewRegistry returns an empty registry with no long-term entries loaded.
func NewRegistry() *Registry {
	return &Registry{
		longTerm:  make(map[string][]byte),
		shortTerm: make(map[string][]byte),
	}
}

// LoadFile replaces the long-term key set from a YAML file of the form
// `username: key`. Safe to call again on SIGHUP to reload.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read credentials file %s: %w", path, err)
	}

	var entries fileEntries
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse credentials file %s: %w", path, err)
	}

	next := make(map[string][]byte, len(entries))
	for user, key := range entries {
		next[user] = []byte(key)
	}

	r.mu.Lock()
	r.longTerm = next
	r.mu.Unlock()
	return nil
}

// AddShortTerm installs an ephemeral (process-lifetime) credential, the
// shape ICE connectivity checks use for per-session pre-shared keys.
func (r *Registry) AddShortTerm(username string, key []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shortTerm[username] = key
}

// RemoveShortTerm deletes an ephemeral credential, e.g. when its owning ICE
// session is torn down.
func (r *Registry) RemoveShortTerm(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shortTerm, username)
}

// NewShortTerm mints an opaque, collision-resistant username for a fresh
// ephemeral credential, installs it, and returns it. Callers that need a
// caller-chosen username (e.g. matching a peer-assigned ICE ufrag) should
// use AddShortTerm directly instead.
func (r *Registry) NewShortTerm(key []byte) string {
	username := uuid.NewString()
	r.AddShortTerm(username, key)
	return username
}

// LocalKey implements stun.Credentials.
func (r *Registry) LocalKey(username string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.shortTerm[username]; ok {
		return k, true
	}
	k, ok := r.longTerm[username]
	return k, ok
}

// CheckLocalUsername implements stun.Credentials.
func (r *Registry) CheckLocalUsername(username string) bool {
	_, ok := r.LocalKey(username)
	return ok
}
