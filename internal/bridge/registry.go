package bridge

import (
	"context"
	"sync"
	"sync/atomic"
)

// Registry tracks live sessions. The server shares one instance across connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	total    atomic.Uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register adds a session.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	r.total.Add(1)
}

// Unregister removes a session.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ID()]; ok && cur == s {
		delete(r.sessions, s.ID())
	}
}

// Backlog sums the client messages still queued for the backend across live sessions.
func (r *Registry) Backlog() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		n += s.Backlog()
	}
	return n
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Total returns how many sessions were ever registered.
func (r *Registry) Total() uint64 {
	return r.total.Load()
}

// Shutdown aborts every live session with ErrShutdown and waits until they
// release their backend calls or ctx ends.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	for _, s := range live {
		s.Abort(ErrShutdown)
	}
	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
