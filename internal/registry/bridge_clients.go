package registry

// RegisterBridgeClient records a sandbox's interception-channel
// connection, requiring the target portal to currently be live.
func (r *Registry) RegisterBridgeClient(instanceID, sessionID, sandboxID, portalID string, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.portals[portalID]; !live {
		return ErrPortalNotFound
	}

	r.bridgeClients[instanceID] = &BridgeClient{
		InstanceID: instanceID,
		SessionID:  sessionID,
		SandboxID:  sandboxID,
		PortalID:   portalID,
		Conn:       conn,
	}
	return nil
}

// BridgeClientByInstanceID returns the bridge client record for instanceID.
func (r *Registry) BridgeClientByInstanceID(instanceID string) (*BridgeClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bc, ok := r.bridgeClients[instanceID]
	return bc, ok
}

// RemoveBridgeClient deregisters a sandbox-bridge-client on disconnect.
func (r *Registry) RemoveBridgeClient(instanceID string) (*BridgeClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bc, ok := r.bridgeClients[instanceID]
	if !ok {
		return nil, false
	}
	delete(r.bridgeClients, instanceID)
	return bc, true
}
