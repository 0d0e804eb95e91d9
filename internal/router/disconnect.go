package router

// disconnectPortal removes a portal whose connection closed. Sandboxes
// already assigned to it are left as-is per the resolved open question:
// their next forwarded call fails with "portal unavailable" rather than
// being proactively cancelled, and only a brand-new portal registration
// can pick up sandboxes that are still unassigned.
func (rt *Router) disconnectPortal(portalID string) {
	if _, ok := rt.Reg.RemovePortal(portalID); !ok {
		return
	}
	rt.broadcastPortalStatus()
}

// disconnectClient tears down every sandbox the session owned, killing
// each one's process tree before the sandbox record is removed — stop and
// disconnect share the same teardown guarantee (no orphan processes).
func (rt *Router) disconnectClient(sessionID string) {
	owned, ok := rt.Reg.RemoveSession(sessionID)
	if !ok {
		return
	}
	for _, sandboxID := range owned {
		sb, ok := rt.Reg.SandboxByID(sandboxID)
		if ok && sb.Child != nil {
			_ = rt.Sup.KillTree(sb.Child)
		}
		rt.Reg.RemoveSandbox(sandboxID)
	}
	rt.broadcastConnections()
	rt.broadcastAssignments()
}

// disconnectSandboxBridge cancels every pending forwarded call the
// instance still had in flight, with "peer disconnected" rather than
// letting them run out their full timeout. It never touches the sandbox
// child itself — the interception channel and the process are
// independent lifecycles.
func (rt *Router) disconnectSandboxBridge(instanceID string) {
	if _, ok := rt.Reg.RemoveBridgeClient(instanceID); !ok {
		return
	}
	ids := rt.drainPending(instanceID)
	rt.Corr.CancelAll(ids, "peer disconnected")
}
