// Package router implements the Router: the protocol state machine that
// drives token issuance, the three registration flows, sandbox lifecycle,
// client commands, and intercepted-call forwarding, wiring the Peer
// Multiplexer to the Registry, Correlation Table, and Process Supervisor.
package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sandboxrouter/core/internal/correlation"
	"github.com/sandboxrouter/core/internal/peer"
	"github.com/sandboxrouter/core/internal/proto"
	"github.com/sandboxrouter/core/internal/registry"
	"github.com/sandboxrouter/core/internal/supervisor"
)

// ForwardDeadline is the time a portal has to answer a forwarded
// intercepted call before the caller receives a synthetic timeout.
const ForwardDeadline = 30 * time.Second

// Router owns no peer connections directly — it only ever sees them through
// the peer.Conn wrapper passed in by the Multiplexer, and records them in
// the Registry only behind the registry.Conn interface.
type Router struct {
	Reg  *registry.Registry
	Corr *correlation.Table
	Sup  supervisor.Supervisor

	mu              sync.Mutex
	pendingByClient map[string]map[string]struct{} // instanceId -> forwardId set

	// fwdGroup tracks every forwarded-call reply goroutine handleInterceptedCall
	// spawns, so Wait can drain them on shutdown instead of leaving them to
	// outlive the listener.
	fwdGroup errgroup.Group
}

// New constructs a Router wired to reg/corr/sup. sup is the active
// Process Supervisor backend (process or docker), chosen once at startup.
func New(reg *registry.Registry, corr *correlation.Table, sup supervisor.Supervisor) *Router {
	return &Router{
		Reg:             reg,
		Corr:            corr,
		Sup:             sup,
		pendingByClient: make(map[string]map[string]struct{}),
	}
}

// Dispatch is the Multiplexer's single entry point: one call per inbound
// frame, already decoded as far as Envelope.Type.
func (rt *Router) Dispatch(conn *peer.Conn, env proto.Envelope) {
	switch env.Type {
	case "generate_bridge_id":
		rt.handleGenerateBridgeID(conn, env)
	case "bridge_register":
		rt.handleBridgeRegister(conn, env)
	case "bridge_capabilities_report":
		rt.handleCapabilitiesReport(conn, env)
	case "start":
		rt.handleStart(conn, env)
	case "stop":
		rt.handleStop(conn, env)
	case "command":
		rt.handleCommand(conn, env)
	case "get_bridge_status":
		rt.handleGetBridgeStatus(conn, env)
	case "get_connected_sandboxes":
		rt.handleGetConnectedSandboxes(conn, env)
	case "bridge_response_from_portal":
		rt.handleBridgeResponseFromPortal(conn, env)
	default:
		if proto.Forwardable[env.Type] {
			rt.handleInterceptedCall(conn, env)
			return
		}
		rt.sendError(conn, "unknown message type: "+env.Type, "")
	}
}

// OnDisconnect is the Multiplexer's disconnect callback, fired exactly
// once per connection regardless of which role it ended up classified as.
func (rt *Router) OnDisconnect(conn *peer.Conn) {
	switch conn.Role() {
	case peer.RolePortal:
		rt.disconnectPortal(conn.RoleID())
	case peer.RoleClient:
		rt.disconnectClient(conn.RoleID())
	case peer.RoleSandboxBridge:
		rt.disconnectSandboxBridge(conn.RoleID())
	}
}

// sendError replies to conn with a protocol/resource error. It never
// closes the connection — callers that need the close-on-error semantics
// (failed portal registration) do that themselves.
func (rt *Router) sendError(conn *peer.Conn, message, details string) {
	if err := conn.Send(proto.ErrorMessage{Type: "error", Error: message, Details: details}); err != nil {
		log.Debug().Str("conn", conn.ID()).Err(err).Msg("router: failed to deliver error reply")
	}
}

// ensureClient classifies conn as a client on its first client-shaped
// message, minting a fresh session id, and is a no-op thereafter. Returns
// the session id and false if conn is already classified as something
// else (a protocol error the caller must report).
func (rt *Router) ensureClient(conn *peer.Conn) (string, bool) {
	switch conn.Role() {
	case peer.RoleClient:
		return conn.RoleID(), true
	case peer.RoleUnclassified:
		sessionID := uuid.NewString()
		rt.Reg.CreateSession(sessionID, conn)
		conn.Classify(peer.RoleClient, sessionID)
		return sessionID, true
	default:
		return "", false
	}
}

func (rt *Router) trackPending(instanceID, forwardID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	set, ok := rt.pendingByClient[instanceID]
	if !ok {
		set = make(map[string]struct{})
		rt.pendingByClient[instanceID] = set
	}
	set[forwardID] = struct{}{}
}

func (rt *Router) untrackPending(instanceID, forwardID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if set, ok := rt.pendingByClient[instanceID]; ok {
		delete(set, forwardID)
	}
}

// Wait blocks until every in-flight forwarded-call reply goroutine has
// finished (bounded by ForwardDeadline, since each one resolves no later
// than that). Called by the server during graceful shutdown.
func (rt *Router) Wait() error {
	return rt.fwdGroup.Wait()
}

// drainPending removes and returns every forward id still outstanding for
// instanceID, for cancellation on disconnect.
func (rt *Router) drainPending(instanceID string) []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	set, ok := rt.pendingByClient[instanceID]
	if !ok {
		return nil
	}
	delete(rt.pendingByClient, instanceID)
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
