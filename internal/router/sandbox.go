package router

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/sandboxrouter/core/internal/peer"
	"github.com/sandboxrouter/core/internal/proto"
	"github.com/sandboxrouter/core/internal/registry"
	"github.com/sandboxrouter/core/internal/supervisor"
)

func (rt *Router) handleStart(conn *peer.Conn, env proto.Envelope) {
	sessionID, ok := rt.ensureClient(conn)
	if !ok {
		rt.sendError(conn, "start is only valid from a client", "")
		return
	}

	var msg proto.Start
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		rt.sendError(conn, "malformed start", err.Error())
		return
	}

	sb, portalID, err := rt.Reg.CreateSandbox(sessionID, msg.SandboxID, registry.SandboxSpec{
		ScriptPath:  msg.Config.ScriptPath,
		Env:         msg.Config.Env,
		Interpreter: msg.Config.Interpreter,
		Labels:      msg.Config.Labels,
	}, msg.Config.TargetFlutterBridge)
	if err != nil {
		rt.sendError(conn, "failed to create sandbox", err.Error())
		return
	}

	child, err := rt.Sup.Spawn(context.Background(), supervisor.SpawnConfig{
		ScriptPath:  sb.ScriptPath,
		Env:         sb.Env,
		Interpreter: sb.Interpreter,
		Labels:      sb.Labels,
	})
	if err != nil {
		rt.Reg.SetSandboxState(msg.SandboxID, registry.StateError)
		rt.notifySandboxUpdated(sessionID, &proto.SandboxSnapshot{
			ID:         msg.SandboxID,
			SessionID:  sessionID,
			ScriptPath: sb.ScriptPath,
			State:      string(registry.StateError),
			PortalID:   portalID,
		})
		rt.Reg.RemoveSandbox(msg.SandboxID)
		rt.sendError(conn, "failed to start sandbox", err.Error())
		return
	}
	rt.Reg.AttachChild(sb.Key, child)

	hint, _ := json.Marshal(proto.ChildBridgeHint{
		Type:                "bridge_register",
		TargetFlutterBridge: portalID,
		SandboxSessionID:    sessionID,
		ActualSandboxID:     msg.SandboxID,
	})
	if child.Stdin != nil {
		_, _ = child.Stdin.Write(append(hint, '\n'))
	}

	go rt.pumpChildOutput(sessionID, msg.SandboxID, child)
	go rt.watchChildExit(sessionID, msg.SandboxID, child)

	rt.notifySandboxUpdated(sessionID, &proto.SandboxSnapshot{
		ID:         msg.SandboxID,
		SessionID:  sessionID,
		ScriptPath: sb.ScriptPath,
		State:      string(registry.StateRunning),
		PortalID:   portalID,
	})
	rt.broadcastConnections()
}

func (rt *Router) handleStop(conn *peer.Conn, env proto.Envelope) {
	sessionID, ok := rt.ensureClient(conn)
	if !ok {
		rt.sendError(conn, "stop is only valid from a client", "")
		return
	}

	var msg proto.Stop
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		rt.sendError(conn, "malformed stop", err.Error())
		return
	}

	sb, ok := rt.Reg.SandboxByID(msg.SandboxID)
	if !ok {
		rt.sendError(conn, "unknown sandbox", msg.SandboxID)
		return
	}
	if sb.Key.SessionID != sessionID {
		rt.sendError(conn, "sandbox belongs to a different session", msg.SandboxID)
		return
	}

	rt.Reg.SetSandboxState(msg.SandboxID, registry.StateStopping)
	rt.notifySandboxUpdated(sessionID, &proto.SandboxSnapshot{
		ID:         msg.SandboxID,
		SessionID:  sessionID,
		ScriptPath: sb.ScriptPath,
		State:      string(registry.StateStopping),
		PortalID:   sb.PortalID,
	})
	rt.broadcastConnections()

	if sb.Child != nil {
		if err := rt.Sup.KillTree(sb.Child); err != nil {
			log.Warn().Str("sandboxId", msg.SandboxID).Err(err).Msg("router: killTree failed during stop")
		}
	}
	rt.Reg.SetSandboxState(msg.SandboxID, registry.StateStopped)
	rt.notifySandboxUpdated(sessionID, &proto.SandboxSnapshot{
		ID:         msg.SandboxID,
		SessionID:  sessionID,
		ScriptPath: sb.ScriptPath,
		State:      string(registry.StateStopped),
		PortalID:   sb.PortalID,
	})

	rt.Reg.RemoveSandbox(msg.SandboxID)

	rt.notifySandboxUpdated(sessionID, nil)
	rt.broadcastConnections()
	rt.broadcastAssignments()
}

func (rt *Router) handleCommand(conn *peer.Conn, env proto.Envelope) {
	sessionID, ok := rt.ensureClient(conn)
	if !ok {
		rt.sendError(conn, "command is only valid from a client", "")
		return
	}

	var msg proto.Command
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		rt.sendError(conn, "malformed command", err.Error())
		return
	}

	sb, ok := rt.Reg.SandboxByID(msg.SandboxID)
	if !ok {
		rt.sendError(conn, "unknown sandbox", msg.SandboxID)
		return
	}
	if sb.Key.SessionID != sessionID {
		rt.sendError(conn, "sandbox belongs to a different session", msg.SandboxID)
		return
	}
	if sb.State != registry.StateRunning || sb.Child == nil || sb.Child.Stdin == nil {
		rt.sendError(conn, "sandbox is not running", msg.SandboxID)
		return
	}

	normalized, err := normalizeCommand(msg.Command)
	if err != nil {
		rt.sendError(conn, "malformed command payload", err.Error())
		return
	}

	if _, err := sb.Child.Stdin.Write(append(normalized, '\n')); err != nil {
		rt.sendError(conn, "failed to write to sandbox stdin", err.Error())
		return
	}

	_ = conn.Send(proto.CommandSent{
		Type:         "command_sent",
		ConnectionID: sessionID,
		SandboxID:    msg.SandboxID,
		Command:      normalized,
	})
}

// normalizeCommand accepts a client's "command" field as either a
// pre-parsed JSON-RPC object or a JSON-encoded string and returns the
// canonical object bytes to write to the child.
func normalizeCommand(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	var probe json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, err
	}
	return probe, nil
}

func (rt *Router) handleGetBridgeStatus(conn *peer.Conn, env proto.Envelope) {
	if _, ok := rt.ensureClient(conn); !ok {
		rt.sendError(conn, "get_bridge_status is only valid from a client", "")
		return
	}

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
	_ = conn.Send(proto.BridgeStatusUpdate{Type: "bridge_status_update", Bridges: entries})
}

func (rt *Router) handleGetConnectedSandboxes(conn *peer.Conn, env proto.Envelope) {
	if _, ok := rt.ensureClient(conn); !ok {
		rt.sendError(conn, "get_connected_sandboxes is only valid from a client", "")
		return
	}

	var msg proto.GetConnectedSandboxes
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		rt.sendError(conn, "malformed get_connected_sandboxes", err.Error())
		return
	}

	assignments := rt.Reg.AssignmentsSnapshot()
	summaries := rt.Reg.ConnectionsSnapshot()
	out := make([]proto.SandboxConnection, 0)
	for _, s := range summaries {
		if assignments[s.ID] != msg.BridgeID {
			continue
		}
		out = append(out, proto.SandboxConnection{
			ID:         s.ID,
			Status:     s.Status,
			StartTime:  s.StartTime,
			ScriptPath: s.ScriptPath,
		})
	}

	_ = conn.Send(proto.ConnectedSandboxesUpdate{Type: "connected_sandboxes_update", Sandboxes: out})
}

// pumpChildOutput forwards classified stdout/stderr lines from a sandbox's
// child to its owning client until the child's Lines channel closes.
func (rt *Router) pumpChildOutput(sessionID, sandboxID string, child *supervisor.ChildHandle) {
	session, ok := rt.Reg.SessionByID(sessionID)
	if !ok {
		return
	}
	for line := range child.Lines {
		isJSON := false
		var probe map[string]any
		if json.Unmarshal([]byte(line.Text), &probe) == nil {
			isJSON = proto.IsJSONRPCResponse(probe)
		}
		_ = session.Conn.Send(proto.StdStream{
			Type:         line.Source,
			ConnectionID: sessionID,
			SandboxID:    sandboxID,
			Message:      line.Text,
			IsJSON:       isJSON,
		})
	}
}

// watchChildExit removes a sandbox once its child process exits on its
// own. A sandbox already in StateStopping or StateStopped is left to
// handleStop.
func (rt *Router) watchChildExit(sessionID, sandboxID string, child *supervisor.ChildHandle) {
	<-child.Exited
	if sb, ok := rt.Reg.SandboxByID(sandboxID); ok &&
		(sb.State == registry.StateStopping || sb.State == registry.StateStopped) {
		// handleStop owns teardown and notification for this sandbox.
		return
	}
	if _, ok := rt.Reg.RemoveSandbox(sandboxID); !ok {
		return
	}
	rt.notifySandboxUpdated(sessionID, nil)
	rt.broadcastConnections()
	rt.broadcastAssignments()
}
