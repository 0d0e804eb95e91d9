package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrouter/core/internal/proto"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestHealthzReportsOK(t *testing.T) {
	ts := startServer(t)
	assert.Equal(t, 200, healthz(t, ts))
}

func TestTokenMintAndPortalRegistration(t *testing.T) {
	ts := startServer(t)

	client := dial(t, ts)
	send(t, client, proto.GenerateBridgeID{Type: "generate_bridge_id", RequestID: uuid.NewString()})

	var generated proto.BridgeIDGenerated
	recvType(t, client, "bridge_id_generated", &generated)
	require.NotEmpty(t, generated.BridgeID)

	portal := dial(t, ts)
	send(t, portal, proto.BridgeRegisterPortal{
		Type:     "bridge_register",
		Origin:   "flutter_bridge_portal",
		BridgeID: generated.BridgeID,
		Platform: "linux",
	})

	var registered proto.BridgeRegistered
	recvType(t, portal, "bridge_registered", &registered)
	assert.Equal(t, generated.BridgeID, registered.ID)

	// Re-using the same (now consumed) token must fail.
	portal2 := dial(t, ts)
	send(t, portal2, proto.BridgeRegisterPortal{
		Type:     "bridge_register",
		Origin:   "flutter_bridge_portal",
		BridgeID: generated.BridgeID,
		Platform: "linux",
	})
	var errMsg proto.ErrorMessage
	recvType(t, portal2, "error", &errMsg)
	assert.NotEmpty(t, errMsg.Error)
}

func TestSandboxStartStreamsStdoutAndStop(t *testing.T) {
	ts := startServer(t)
	client := dial(t, ts)

	script := writeScript(t, "#!/bin/sh\necho ready\nsleep 30\n")
	sandboxID := uuid.NewString()
	send(t, client, proto.Start{
		Type:      "start",
		SandboxID: sandboxID,
		Config:    proto.StartConfig{ScriptPath: script},
	})

	var updated proto.SandboxUpdated
	recvType(t, client, "sandbox_updated", &updated)
	require.NotNil(t, updated.Sandbox)
	assert.Equal(t, sandboxID, updated.Sandbox.ID)
	assert.Equal(t, "running", updated.Sandbox.State)

	var out proto.StdStream
	recvType(t, client, "stdout", &out)
	assert.Equal(t, "ready", out.Message)
	assert.Equal(t, sandboxID, out.SandboxID)

	send(t, client, proto.Stop{Type: "stop", SandboxID: sandboxID})

	var stopping proto.SandboxUpdated
	recvType(t, client, "sandbox_updated", &stopping)
	require.NotNil(t, stopping.Sandbox)
	assert.Equal(t, "stopping", stopping.Sandbox.State)

	var stoppedSnapshot proto.SandboxUpdated
	recvType(t, client, "sandbox_updated", &stoppedSnapshot)
	require.NotNil(t, stoppedSnapshot.Sandbox)
	assert.Equal(t, "stopped", stoppedSnapshot.Sandbox.State)

	var destroyed proto.SandboxUpdated
	recvType(t, client, "sandbox_updated", &destroyed)
	assert.Nil(t, destroyed.Sandbox)
}

func TestCommandIsWrittenToChildStdin(t *testing.T) {
	ts := startServer(t)
	client := dial(t, ts)

	// The first stdin line is the core's bridge_register hint; the command
	// follows it.
	script := writeScript(t, "#!/bin/sh\nread hint\nread line\necho \"got:$line\"\n")
	sandboxID := uuid.NewString()
	send(t, client, proto.Start{
		Type:      "start",
		SandboxID: sandboxID,
		Config:    proto.StartConfig{ScriptPath: script},
	})

	var updated proto.SandboxUpdated
	recvType(t, client, "sandbox_updated", &updated)

	send(t, client, proto.Command{
		Type:      "command",
		SandboxID: sandboxID,
		Command:   []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
	})

	var sent proto.CommandSent
	recvType(t, client, "command_sent", &sent)
	assert.Equal(t, sandboxID, sent.SandboxID)

	var out proto.StdStream
	recvType(t, client, "stdout", &out)
	assert.Contains(t, out.Message, "got:")
}
