package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrouter/core/internal/proto"
)

func TestInterceptedCallForwardedAndReplied(t *testing.T) {
	ts := startServer(t)

	client := dial(t, ts)
	send(t, client, proto.GenerateBridgeID{Type: "generate_bridge_id", RequestID: uuid.NewString()})
	var generated proto.BridgeIDGenerated
	recvType(t, client, "bridge_id_generated", &generated)

	portal := dial(t, ts)
	send(t, portal, proto.BridgeRegisterPortal{
		Type: "bridge_register", Origin: "flutter_bridge_portal",
		BridgeID: generated.BridgeID, Platform: "linux",
	})
	var portalRegistered proto.BridgeRegistered
	recvType(t, portal, "bridge_registered", &portalRegistered)

	bridgeClient := dial(t, ts)
	send(t, bridgeClient, proto.BridgeRegisterSandbox{
		Type: "bridge_register", Origin: "sandbox_bridge_client",
		BridgeID:         generated.BridgeID,
		SandboxSessionID: "sess-1",
		ActualSandboxID:  "box-a",
		InstanceID:       "inst-1",
	})
	var bcRegistered proto.BridgeRegistered
	recvType(t, bridgeClient, "bridge_registered", &bcRegistered)
	assert.Equal(t, "inst-1", bcRegistered.ID)

	requestID := uuid.NewString()
	send(t, bridgeClient, proto.InterceptedCall{
		Type:                "fs_read",
		TargetFlutterBridge: generated.BridgeID,
		SandboxSessionID:    "sess-1",
		ActualSandboxID:     "box-a",
		RequestID:           requestID,
		Payload:             []byte(`{"path":"/tmp/x"}`),
	})

	var forwarded proto.ForwardedCall
	recvType(t, portal, "fs_read", &forwarded)
	assert.Equal(t, "box-a", forwarded.RoutingInfo.ActualSandboxID)

	send(t, portal, proto.BridgeResponseFromPortal{
		Type:      "bridge_response_from_portal",
		RequestID: forwarded.RequestID,
		Response:  proto.ResponsePayload{Data: "file contents"},
	})

	var reply proto.BridgeResponse
	recvType(t, bridgeClient, "bridge_response", &reply)
	assert.Equal(t, requestID, reply.RequestID)
	assert.Equal(t, "file contents", reply.Response.Data)
}

func TestInterceptedCallWithNoLivePortalFailsImmediately(t *testing.T) {
	ts := startServer(t)

	client := dial(t, ts)
	send(t, client, proto.GenerateBridgeID{Type: "generate_bridge_id", RequestID: uuid.NewString()})
	var generated proto.BridgeIDGenerated
	recvType(t, client, "bridge_id_generated", &generated)

	// Register the sandbox bridge client's portal, then let it vanish
	// before the forwarded call is sent, so it exercises the disconnected
	// branch of resolution rather than a never-registered bridge id.
	portal := dial(t, ts)
	send(t, portal, proto.BridgeRegisterPortal{
		Type: "bridge_register", Origin: "flutter_bridge_portal",
		BridgeID: generated.BridgeID, Platform: "linux",
	})
	var portalRegistered proto.BridgeRegistered
	recvType(t, portal, "bridge_registered", &portalRegistered)

	bridgeClient := dial(t, ts)
	send(t, bridgeClient, proto.BridgeRegisterSandbox{
		Type: "bridge_register", Origin: "sandbox_bridge_client",
		BridgeID:         generated.BridgeID,
		SandboxSessionID: "sess-1",
		ActualSandboxID:  "box-a",
		InstanceID:       "inst-1",
	})
	var bcRegistered proto.BridgeRegistered
	recvType(t, bridgeClient, "bridge_registered", &bcRegistered)

	portal.Close()
	time.Sleep(100 * time.Millisecond) // let disconnect processing land

	send(t, bridgeClient, proto.InterceptedCall{
		Type:                "fs_read",
		TargetFlutterBridge: generated.BridgeID,
		SandboxSessionID:    "sess-1",
		ActualSandboxID:     "box-a",
		RequestID:           uuid.NewString(),
		Payload:             []byte(`{"path":"/tmp/x"}`),
	})

	var reply proto.BridgeResponse
	recvType(t, bridgeClient, "bridge_response", &reply)
	assert.Equal(t, "portal unavailable", reply.Response.Error)
}
