package registry

// CreateSession records a newly connected client.
func (r *Registry) CreateSession(id string, conn Conn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Session{ID: id, Conn: conn, Sandboxes: make(map[string]bool)}
	r.sessions[id] = s
	return s
}

// SessionByID returns the session record for id, if connected.
func (r *Registry) SessionByID(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// RemoveSession drops a session and returns the set of sandbox ids it
// owned, so the caller (Router) can kill each one's child process. The
// sandbox records themselves are removed by RemoveSandbox, not here.
func (r *Registry) RemoveSession(id string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)

	owned := make([]string, 0, len(s.Sandboxes))
	for sid := range s.Sandboxes {
		owned = append(owned, sid)
	}
	return owned, true
}
