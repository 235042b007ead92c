package registry

import (
	"errors"
	"sync"
)

// Delivery errors returned by Conn.Send implementations.
var (
	ErrClosed     = errors.New("registry: connection closed")
	ErrBufferFull = errors.New("registry: outbound buffer full")
)

// Conn is one live viewer connection as seen by a channel.
// Send must not block: it either enqueues msg or returns an error.
type Conn interface {
	Send(msg []byte) error
	Closed() bool
}

// Entry is one viewer-id/connection pair.
type Entry struct {
	ViewerID string
	Conn     Conn
}

// Registry maps viewer ids to connections for a single channel.
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Add registers conn under viewerID, replacing any previous connection.
// It returns the replaced connection, or nil.
func (r *Registry) Add(viewerID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[viewerID]
	r.conns[viewerID] = conn
	return prev
}

// Remove deletes viewerID. It reports whether an entry existed.
func (r *Registry) Remove(viewerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[viewerID]; !ok {
		return false
	}
	delete(r.conns, viewerID)
	return true
}

// RemoveConn deletes viewerID only while it is still bound to conn, so a
// newer registration under the same id survives cleanup of an old socket.
func (r *Registry) RemoveConn(viewerID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[viewerID]; !ok || cur != conn {
		return false
	}
	delete(r.conns, viewerID)
	return true
}

// Get returns the connection registered under viewerID.
func (r *Registry) Get(viewerID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[viewerID]
	return c, ok
}

// Snapshot returns a stable copy of the current membership. Iterating the
// result is unaffected by concurrent Add/Remove calls.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.conns))
	for id, c := range r.conns {
		out = append(out, Entry{ViewerID: id, Conn: c})
	}
	return out
}

// Len returns the number of registered viewers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Clear removes every entry and returns what was removed.
func (r *Registry) Clear() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.conns))
	for id, c := range r.conns {
		out = append(out, Entry{ViewerID: id, Conn: c})
	}
	r.conns = make(map[string]Conn)
	return out
}
