// Package presence tracks which users currently hold a live messaging
// connection. The registry is process-wide and ephemeral: entries exist
// only between a successful authentication handshake and the matching
// disconnect.
package presence

import "sync"

// Connection is the live handle the registry stores per user. Send
// enqueues a payload for delivery and reports whether it was accepted.
type Connection interface {
	Send(payload []byte) bool
}

// Registry maps a user id to its single live connection. A repeated
// SetOnline for the same user overwrites the previous entry
// (last-writer-wins) without invalidating the old connection.
//
// Known limitation: a connection that never cleanly disconnects leaks its
// entry until process restart; nothing bounds the map beyond disconnects.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Connection)}
}

// SetOnline records or overwrites the live connection for a user.
func (r *Registry) SetOnline(userID string, conn Connection) {
	r.mu.Lock()
	r.conns[userID] = conn
	r.mu.Unlock()
}

// Get returns the current connection for a user, or false when absent.
func (r *Registry) Get(userID string) (Connection, bool) {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	return conn, ok
}

// SetOffline removes the mapping for a user. Removing an absent user id
// is a no-op.
func (r *Registry) SetOffline(userID string) {
	r.mu.Lock()
	delete(r.conns, userID)
	r.mu.Unlock()
}

// Online reports whether a user currently has a live connection.
func (r *Registry) Online(userID string) bool {
	_, ok := r.Get(userID)
	return ok
}

// Count returns the number of users currently online.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
