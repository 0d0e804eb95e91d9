package registry

import "time"

// RegisterPortal consumes id as an admission token and, if that succeeds,
// records a new live portal. Duplicate registration of an id that is
// currently live (should be impossible since ids are single-use, but
// guarded defensively) is rejected.
func (r *Registry) RegisterPortal(id, platform string, conn Conn) error {
	if !r.ConsumeToken(id) {
		return ErrTokenInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.portals[id]; exists {
		return ErrPortalExists
	}

	r.portals[id] = &Portal{
		ID:           id,
		Platform:     platform,
		Conn:         conn,
		RegisteredAt: time.Now(),
	}
	r.portalOrder = append(r.portalOrder, id)
	return nil
}

// RemovePortal deregisters a portal on connection close. Returns the
// removed record and whether it existed.
func (r *Registry) RemovePortal(id string) (*Portal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.portals[id]
	if !ok {
		return nil, false
	}
	delete(r.portals, id)
	for i, pid := range r.portalOrder {
		if pid == id {
			r.portalOrder = append(r.portalOrder[:i], r.portalOrder[i+1:]...)
			break
		}
	}
	return p, true
}

// PortalByID returns the live portal record for id, if any.
func (r *Registry) PortalByID(id string) (*Portal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.portals[id]
	return p, ok
}

// SetCapabilities stores a capabilities report on a portal already owned
// by the reporting connection.
func (r *Registry) SetCapabilities(id string, caps map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.portals[id]
	if !ok {
		return false
	}
	p.Capabilities = caps
	return true
}

// FirstAvailablePortal returns the earliest-registered live portal, by
// insertion order, for sandboxes that didn't request a specific one.
func (r *Registry) FirstAvailablePortal() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.portalOrder) == 0 {
		return "", false
	}
	return r.portalOrder[0], true
}

// PortalStatusSnapshot returns every live portal for a bridge_status_update
// broadcast, in registration order.
func (r *Registry) PortalStatusSnapshot() []Portal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Portal, 0, len(r.portalOrder))
	for _, id := range r.portalOrder {
		out = append(out, *r.portals[id])
	}
	return out
}
