package broadcast

import "sync"

// Registry maps run IDs to their broadcast sessions.
//
// Sessions are created on first use, shared by publishers and
// subscribers, and evicted once ended and abandoned. Safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Session returns the session for a run, creating it if needed.
// An ended session still present in the registry is returned as-is;
// subscribing to it yields an immediately closed channel.
func (r *Registry) Session(runID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[runID]
	if !ok {
		session = NewSession(runID)
		r.sessions[runID] = session
	}
	return session
}

// Publish sends a message to a run's session, creating the session if
// no observer has attached yet.
func (r *Registry) Publish(runID string, msg Message) {
	r.Session(runID).Publish(msg)
}

// Evict removes a run's session once it can no longer matter to anyone:
// no subscribers remain and the session has either ended or never carried
// a message. Returns true if the session was removed. Call it after
// publishing a terminal message and after an observer detaches.
func (r *Registry) Evict(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[runID]
	if !ok {
		return false
	}
	if session.evictable() {
		delete(r.sessions, runID)
		return true
	}
	return false
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
