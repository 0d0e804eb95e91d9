package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPortalRequiresValidToken(t *testing.T) {
	r := New()
	err := r.RegisterPortal("nosuchtoken", "linux", newFakeConn("c1"))
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRegisterPortalSucceedsWithValidToken(t *testing.T) {
	r := New()
	id, _, err := r.MintToken()
	require.NoError(t, err)

	require.NoError(t, r.RegisterPortal(id, "linux", newFakeConn("c1")))

	p, ok := r.PortalByID(id)
	require.True(t, ok)
	assert.Equal(t, "linux", p.Platform)
}

func TestFirstAvailablePortalIsEarliestRegistered(t *testing.T) {
	r := New()
	id1, _, _ := r.MintToken()
	id2, _, _ := r.MintToken()
	require.NoError(t, r.RegisterPortal(id1, "linux", newFakeConn("c1")))
	require.NoError(t, r.RegisterPortal(id2, "mac", newFakeConn("c2")))

	first, ok := r.FirstAvailablePortal()
	require.True(t, ok)
	assert.Equal(t, id1, first)
}

func TestRemovePortalDropsItFromFirstAvailable(t *testing.T) {
	r := New()
	id1, _, _ := r.MintToken()
	id2, _, _ := r.MintToken()
	require.NoError(t, r.RegisterPortal(id1, "linux", newFakeConn("c1")))
	require.NoError(t, r.RegisterPortal(id2, "mac", newFakeConn("c2")))

	_, ok := r.RemovePortal(id1)
	require.True(t, ok)

	first, ok := r.FirstAvailablePortal()
	require.True(t, ok)
	assert.Equal(t, id2, first)
}

func TestSetCapabilitiesOnUnknownPortalFails(t *testing.T) {
	r := New()
	assert.False(t, r.SetCapabilities("nope", map[string]any{"fs": true}))
}
