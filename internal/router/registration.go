package router

import (
	"encoding/json"

	"github.com/sandboxrouter/core/internal/peer"
	"github.com/sandboxrouter/core/internal/proto"
)

func (rt *Router) handleGenerateBridgeID(conn *peer.Conn, env proto.Envelope) {
	if _, ok := rt.ensureClient(conn); !ok {
		rt.sendError(conn, "generate_bridge_id is only valid from a client", "")
		return
	}

	var msg proto.GenerateBridgeID
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		rt.sendError(conn, "malformed generate_bridge_id", err.Error())
		return
	}

	id, expiresAt, err := rt.Reg.MintToken()
	if err != nil {
		rt.sendError(conn, "failed to mint admission token", err.Error())
		return
	}

	_ = conn.Send(proto.BridgeIDGenerated{
		Type:      "bridge_id_generated",
		BridgeID:  id,
		ExpiresAt: expiresAt.UnixMilli(),
		RequestID: msg.RequestID,
	})
}

// registerOrigin peeks at the discriminator every bridge_register variant
// carries, before committing to one of the two full shapes.
type registerOrigin struct {
	Origin string `json:"origin"`
}

func (rt *Router) handleBridgeRegister(conn *peer.Conn, env proto.Envelope) {
	if conn.Role() != peer.RoleUnclassified {
		rt.sendError(conn, "connection already classified", "")
		return
	}

	var origin registerOrigin
	if err := json.Unmarshal(env.Raw, &origin); err != nil {
		rt.sendError(conn, "malformed bridge_register", err.Error())
		return
	}

	switch origin.Origin {
	case "flutter_bridge_portal":
		rt.registerPortal(conn, env)
	case "sandbox_bridge_client":
		rt.registerSandboxBridgeClient(conn, env)
	default:
		rt.sendError(conn, "unknown bridge_register origin: "+origin.Origin, "")
	}
}

func (rt *Router) registerPortal(conn *peer.Conn, env proto.Envelope) {
	var msg proto.BridgeRegisterPortal
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		rt.sendError(conn, "malformed bridge_register", err.Error())
		return
	}

	if err := rt.Reg.RegisterPortal(msg.BridgeID, msg.Platform, conn); err != nil {
		rt.sendError(conn, "portal registration failed", err.Error())
		conn.Close()
		return
	}
	conn.Classify(peer.RolePortal, msg.BridgeID)
	if len(msg.Capabilities) > 0 {
		rt.Reg.SetCapabilities(msg.BridgeID, msg.Capabilities)
	}

	_ = conn.Send(proto.BridgeRegistered{Type: "bridge_registered", ID: msg.BridgeID})

	rt.broadcastPortalStatus()
	assigned := rt.Reg.AssignOrphans(msg.BridgeID)
	if len(assigned) > 0 {
		rt.broadcastAssignments()
	}
}

func (rt *Router) registerSandboxBridgeClient(conn *peer.Conn, env proto.Envelope) {
	var msg proto.BridgeRegisterSandbox
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		rt.sendError(conn, "malformed bridge_register", err.Error())
		return
	}

	if err := rt.Reg.RegisterBridgeClient(msg.InstanceID, msg.SandboxSessionID, msg.ActualSandboxID, msg.BridgeID, conn); err != nil {
		rt.sendError(conn, "sandbox bridge registration failed", err.Error())
		return
	}
	conn.Classify(peer.RoleSandboxBridge, msg.InstanceID)

	if rt.Reg.AssignSandboxToPortal(msg.ActualSandboxID, msg.BridgeID) {
		rt.broadcastAssignments()
	}

	_ = conn.Send(proto.BridgeRegistered{Type: "bridge_registered", ID: msg.InstanceID})
}

func (rt *Router) handleCapabilitiesReport(conn *peer.Conn, env proto.Envelope) {
	if conn.Role() != peer.RolePortal {
		rt.sendError(conn, "bridge_capabilities_report is only valid from a registered portal", "")
		return
	}

	var msg proto.BridgeCapabilitiesReport
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		rt.sendError(conn, "malformed bridge_capabilities_report", err.Error())
		return
	}
	if msg.BridgeID != conn.RoleID() {
		rt.sendError(conn, "bridge_capabilities_report must name the sender's own portal id", "")
		return
	}

	if !rt.Reg.SetCapabilities(msg.BridgeID, msg.Capabilities) {
		rt.sendError(conn, "unknown portal", msg.BridgeID)
		return
	}
	rt.broadcastPortalStatus()
}
