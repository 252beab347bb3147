package mcp

import "sync"

// SessionRegistry maps project keys to MCP session IDs.
// Populated automatically whenever a session calls a tool for a project;
// change notifications for that project are then pushed to the session.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // project key → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a project key with a session ID.
// If the project is already watched, the newest session wins (reconnect).
func (r *SessionRegistry) Register(project, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[project] = sessionID
}

// SessionFor returns the session ID watching the given project, if any.
func (r *SessionRegistry) SessionFor(project string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[project]
	return sid, ok
}

// Remove deletes all project mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for project, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, project)
		}
	}
}
