package mcp

import "sync"

// SessionRegistry maps run IDs to the MCP session that asked for the run's
// events.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // runID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a run with a session.
func (r *SessionRegistry) Register(runID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[runID] = sessionID
}

// SessionFor returns the session watching runID.
func (r *SessionRegistry) SessionFor(runID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[runID]
	return sid, ok
}

// Forget drops the mapping for a finished run.
func (r *SessionRegistry) Forget(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, runID)
}

// Remove deletes every run mapped to sessionID. Called when a session
// disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, rid)
		}
	}
}

// Len returns the number of watched runs.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
