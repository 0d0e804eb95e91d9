package router

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sandboxrouter/core/internal/peer"
	"github.com/sandboxrouter/core/internal/proto"
)

// handleInterceptedCall forwards a closed-set effect type (fs_read,
// fs_write, fs_stat, fs_list, fs_mkdir, fs_rmdir, fs_unlink, http_request)
// from a sandbox-bridge-client to its target portal, minting a
// fresh forwarded-id and registering a 30-second waiter for the reply.
func (rt *Router) handleInterceptedCall(conn *peer.Conn, env proto.Envelope) {
	if conn.Role() != peer.RoleSandboxBridge {
		rt.sendError(conn, env.Type+" is only valid from a sandbox-bridge-client", "")
		return
	}

	var call proto.InterceptedCall
	if err := json.Unmarshal(env.Raw, &call); err != nil {
		rt.sendError(conn, "malformed "+env.Type, err.Error())
		return
	}
	call.Type = env.Type

	portal, ok := rt.Reg.PortalByID(call.TargetFlutterBridge)
	if !ok {
		_ = conn.Send(proto.BridgeResponse{
			Type:      "bridge_response",
			RequestID: call.RequestID,
			Response:  proto.ResponsePayload{Error: "portal unavailable"},
		})
		return
	}

	forwardID := uuid.NewString()
	waiter := rt.Corr.Register(forwardID, ForwardDeadline)
	instanceID := conn.RoleID()
	rt.trackPending(instanceID, forwardID)

	if err := portal.Conn.Send(proto.ForwardedCall{
		Type:      call.Type,
		RequestID: forwardID,
		Payload:   call.Payload,
		RoutingInfo: proto.RoutingInfo{
			TargetFlutterBridge: call.TargetFlutterBridge,
			SandboxSessionID:    call.SandboxSessionID,
			ActualSandboxID:     call.ActualSandboxID,
		},
	}); err != nil {
		rt.Corr.Cancel(forwardID, "portal unavailable")
	}

	rt.fwdGroup.Go(func() error {
		res := <-waiter.Done
		rt.untrackPending(instanceID, forwardID)

		resp := proto.ResponsePayload{Error: res.Err}
		if res.Err == "" {
			if v, ok := res.Value.(proto.ResponsePayload); ok {
				resp = v
			}
		}
		if err := conn.Send(proto.BridgeResponse{
			Type:      "bridge_response",
			RequestID: call.RequestID,
			Response:  resp,
		}); err != nil {
			log.Debug().Str("requestId", call.RequestID).Err(err).Msg("router: failed to deliver forwarded reply")
			return err
		}
		return nil
	})
}

// handleBridgeResponseFromPortal resolves the waiter a prior forwarded
// call installed. If the forward already timed out or the
// sandbox-bridge-client disconnected, the entry is gone and the reply is
// silently dropped.
func (rt *Router) handleBridgeResponseFromPortal(conn *peer.Conn, env proto.Envelope) {
	if conn.Role() != peer.RolePortal {
		rt.sendError(conn, "bridge_response_from_portal is only valid from a registered portal", "")
		return
	}

	var msg proto.BridgeResponseFromPortal
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		rt.sendError(conn, "malformed bridge_response_from_portal", err.Error())
		return
	}

	rt.Corr.Complete(msg.RequestID, msg.Response)
}
