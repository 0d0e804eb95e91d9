package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrouter/core/internal/supervisor"
)

func TestCreateSandboxFailsWithoutSession(t *testing.T) {
	r := New()
	_, _, err := r.CreateSandbox("no-such-session", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateSandboxCarriesInterpreterAndLabels(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))

	sb, _, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{
		ScriptPath:  "run.noext",
		Interpreter: "node",
		Labels:      map[string]string{"team": "infra"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "node", sb.Interpreter)
	assert.Equal(t, map[string]string{"team": "infra"}, sb.Labels)
}

func TestCreateSandboxRejectsKeyConflict(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))

	_, _, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)

	_, _, err = r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	assert.ErrorIs(t, err, ErrSandboxKeyConflict)
}

func TestCreateSandboxResolvesRequestedLivePortal(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))
	portalID, _, _ := r.MintToken()
	require.NoError(t, r.RegisterPortal(portalID, "linux", newFakeConn("portal-1")))

	_, resolved, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, portalID)
	require.NoError(t, err)
	assert.Equal(t, portalID, resolved)
}

func TestCreateSandboxFallsBackToFirstAvailableWhenRequestedIsDead(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))
	portalID, _, _ := r.MintToken()
	require.NoError(t, r.RegisterPortal(portalID, "linux", newFakeConn("portal-1")))

	_, resolved, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "dead-portal")
	require.NoError(t, err)
	assert.Equal(t, portalID, resolved)
}

func TestCreateSandboxWithNoLivePortalsResolvesEmpty(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))

	_, resolved, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestAttachChildMarksRunning(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))
	sb, _, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)

	handle := supervisor.NewChildHandle(123, nil, nil, nil, nil)
	require.True(t, r.AttachChild(sb.Key, handle))

	got, ok := r.SandboxByID("box-a")
	require.True(t, ok)
	assert.Equal(t, StateRunning, got.State)
	assert.Equal(t, 123, got.Child.PID)
}

func TestAttachChildUnknownKeyFails(t *testing.T) {
	r := New()
	handle := supervisor.NewChildHandle(1, nil, nil, nil, nil)
	assert.False(t, r.AttachChild(SandboxKey{SessionID: "x", SandboxID: "y"}, handle))
}

func TestAssignSandboxToPortalIsSticky(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))
	portalA, _, _ := r.MintToken()
	portalB, _, _ := r.MintToken()
	require.NoError(t, r.RegisterPortal(portalA, "linux", newFakeConn("portal-a")))
	require.NoError(t, r.RegisterPortal(portalB, "mac", newFakeConn("portal-b")))

	_, _, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, portalA)
	require.NoError(t, err)

	assert.True(t, r.AssignSandboxToPortal("box-a", portalA))
	assert.False(t, r.AssignSandboxToPortal("box-a", portalB))

	snap := r.AssignmentsSnapshot()
	assert.Equal(t, portalA, snap["box-a"])
}

func TestAssignSandboxToPortalUnknownSandboxFails(t *testing.T) {
	r := New()
	assert.False(t, r.AssignSandboxToPortal("missing", "portal-x"))
}

func TestAssignOrphansOnlyTouchesUnassigned(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))

	// box-b is created before any portal exists, so it starts unassigned.
	_, resolved2, err := r.CreateSandbox("sess-1", "box-b", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)
	assert.Empty(t, resolved2)

	portalA, _, _ := r.MintToken()
	require.NoError(t, r.RegisterPortal(portalA, "linux", newFakeConn("portal-a")))

	_, resolved, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)
	assert.Equal(t, portalA, resolved) // already assigned to the only live portal

	portalB, _, _ := r.MintToken()
	require.NoError(t, r.RegisterPortal(portalB, "mac", newFakeConn("portal-b")))

	assigned := r.AssignOrphans(portalB)
	assert.Equal(t, []string{"box-b"}, assigned)

	snap := r.AssignmentsSnapshot()
	assert.Equal(t, portalB, snap["box-b"])
	assert.Equal(t, portalA, snap["box-a"])
}

func TestRemoveSandboxCleansUpAllIndexes(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))
	portalID, _, _ := r.MintToken()
	require.NoError(t, r.RegisterPortal(portalID, "linux", newFakeConn("portal-1")))

	_, _, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)

	removed, ok := r.RemoveSandbox("box-a")
	require.True(t, ok)
	assert.Equal(t, "box-a", removed.Key.SandboxID)

	_, ok = r.SandboxByID("box-a")
	assert.False(t, ok)

	snap := r.AssignmentsSnapshot()
	_, has := snap["box-a"]
	assert.False(t, has)

	session, _ := r.SessionByID("sess-1")
	assert.False(t, session.Sandboxes["box-a"])
}

func TestRemoveUnknownSandboxFails(t *testing.T) {
	r := New()
	_, ok := r.RemoveSandbox("missing")
	assert.False(t, ok)
}

func TestConnectionsSnapshotReflectsRunningState(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))
	sb, _, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)

	snap := r.ConnectionsSnapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "creating", snap[0].Status)

	r.AttachChild(sb.Key, supervisor.NewChildHandle(1, nil, nil, nil, nil))
	snap = r.ConnectionsSnapshot()
	assert.Equal(t, "running", snap[0].Status)
}

func TestSetSandboxStateTransitionsStatus(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))
	_, _, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)

	require.True(t, r.SetSandboxState("box-a", StateError))

	got, ok := r.SandboxByID("box-a")
	require.True(t, ok)
	assert.Equal(t, StateError, got.State)

	snap := r.ConnectionsSnapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "error", snap[0].Status)
}

func TestSetSandboxStateUnknownSandboxFails(t *testing.T) {
	r := New()
	assert.False(t, r.SetSandboxState("missing", StateStopped))
}

func TestAllChildrenOnlyReturnsAttached(t *testing.T) {
	r := New()
	r.CreateSession("sess-1", newFakeConn("c1"))
	sbA, _, err := r.CreateSandbox("sess-1", "box-a", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)
	_, _, err = r.CreateSandbox("sess-1", "box-b", SandboxSpec{ScriptPath: "run.sh"}, "")
	require.NoError(t, err)

	handle := supervisor.NewChildHandle(42, nil, nil, nil, nil)
	require.True(t, r.AttachChild(sbA.Key, handle))

	children := r.AllChildren()
	require.Len(t, children, 1)
	assert.Equal(t, 42, children[0].PID)
}
