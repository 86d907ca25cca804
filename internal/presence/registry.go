// Package presence tracks which identity is reachable on which live connection.
// The registry is the single source of truth for online status: at most one
// connection handle per identity, last announcement wins.
package presence

import "sync"

// Handle is an opaque routing token for a live connection. Implementations
// are owned by the transport layer; the registry only compares and returns
// them, it never manages their lifecycle.
type Handle interface {
	// HandleID uniquely identifies the connection for its lifetime.
	HandleID() string
}

// Registry maps identities to the connection handle that currently speaks
// for them. Safe for concurrent use; every operation is a single atomic step.
type Registry struct {
	mu     sync.RWMutex
	online map[string]Handle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		online: make(map[string]Handle),
	}
}

// SetOnline binds identity to h, unconditionally replacing any previous
// binding. A connection that loses its identity this way is left alone;
// it simply stops receiving targeted traffic.
func (r *Registry) SetOnline(identity string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[identity] = h
}

// SetOffline removes the binding for identity, but only if h is still the
// bound handle. A disconnect racing a newer announcement for the same
// identity must not evict the newer connection. Returns true if a binding
// was removed.
func (r *Registry) SetOffline(identity string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.online[identity]
	if !ok || current.HandleID() != h.HandleID() {
		return false
	}
	delete(r.online, identity)
	return true
}

// Resolve returns the handle bound to identity, if any. A missing entry
// means offline or unknown; callers drop targeted delivery in that case.
func (r *Registry) Resolve(identity string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.online[identity]
	return h, ok
}

// IsOnline reports whether identity has a live binding
func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[identity]
	return ok
}

// Snapshot returns the set of online identities. Handles are never exposed;
// the key set is what gets broadcast to clients. Order is not significant.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.online))
	for id := range r.online {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of online identities
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}
