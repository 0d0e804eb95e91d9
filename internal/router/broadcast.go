package router

import (
	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog/log"
	"github.com/sandboxrouter/core/internal/proto"
)

// broadcastPortalStatus sends every connected client the current portal
// roster. Called after any portal add/remove/capabilities change.
func (rt *Router) broadcastPortalStatus() {
	portals := rt.Reg.PortalStatusSnapshot()
	entries := make([]proto.BridgeStatusEntry, 0, len(portals))
	for _, p := range portals {
		entries = append(entries, proto.BridgeStatusEntry{
			BridgeID:     p.ID,
			Platform:     p.Platform,
			ConnectedAt:  p.RegisteredAt.UnixMilli(),
			Status:       "connected",
			Capabilities: p.Capabilities,
		})
	}
	rt.broadcastToClients(proto.BridgeStatusUpdate{Type: "bridge_status_update", Bridges: entries})
}

// broadcastAssignments sends every connected client the current
// sandboxId -> portalId assignment map. Called after any assignment
// change (orphan auto-assignment, sticky bridge-client registration,
// sandbox destruction).
func (rt *Router) broadcastAssignments() {
	rt.broadcastToClients(proto.BridgeAssignmentsUpdate{
		Type:        "bridge_assignments_update",
		Assignments: rt.Reg.AssignmentsSnapshot(),
	})
}

// broadcastConnections sends every connected client the full sandbox
// connection snapshot. Called after any sandbox creation/removal.
func (rt *Router) broadcastConnections() {
	summaries := rt.Reg.ConnectionsSnapshot()
	conns := make([]proto.SandboxConnection, 0, len(summaries))
	for _, s := range summaries {
		conns = append(conns, proto.SandboxConnection{
			ID:         s.ID,
			Status:     s.Status,
			StartTime:  s.StartTime,
			ScriptPath: s.ScriptPath,
		})
	}
	rt.broadcastToClients(proto.ConnectionsUpdate{Type: "connections_update", Connections: conns})
}

// notifySandboxUpdated sends a single sandbox_updated to the sandbox's
// owning client only — unlike the other broadcasts, this one is scoped.
// snapshot == nil signals the sandbox was destroyed.
func (rt *Router) notifySandboxUpdated(sessionID string, snapshot *proto.SandboxSnapshot) {
	session, ok := rt.Reg.SessionByID(sessionID)
	if !ok {
		return
	}
	_ = session.Conn.Send(proto.SandboxUpdated{
		Type:         "sandbox_updated",
		ConnectionID: sessionID,
		Sandbox:      snapshot,
	})
}

// broadcastToClients fans v out to every connected client concurrently.
// An errgroup collects the fan-out rather than a bare WaitGroup so one
// client's slow/failing Send can't stall or get lost behind another's —
// every goroutine it starts is accounted for before broadcastToClients
// returns.
func (rt *Router) broadcastToClients(v any) {
	var g errgroup.Group
	for _, c := range rt.Reg.ClientConns() {
		c := c
		g.Go(func() error { return c.Send(v) })
	}
	if err := g.Wait(); err != nil {
		log.Debug().Err(err).Msg("router: broadcast failed to reach at least one client")
	}
}
