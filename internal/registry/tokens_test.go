package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintTokenIsEightHexChars(t *testing.T) {
	r := New()
	id, expiresAt, err := r.MintToken()
	require.NoError(t, err)
	assert.Len(t, id, 8)
	assert.WithinDuration(t, time.Now().Add(tokenTTL), expiresAt, time.Second)
}

func TestConsumeTokenIsSingleUse(t *testing.T) {
	r := New()
	id, _, err := r.MintToken()
	require.NoError(t, err)

	assert.True(t, r.ConsumeToken(id))
	assert.False(t, r.ConsumeToken(id))
}

func TestConsumeUnknownTokenFails(t *testing.T) {
	r := New()
	assert.False(t, r.ConsumeToken("deadbeef"))
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	r := New()
	r.mu.Lock()
	r.tokens["aaaaaaaa"] = &token{createdAt: time.Now(), expiresAt: time.Now().Add(10 * time.Millisecond)}
	r.tokens["aaaaaaaa"].timer = time.AfterFunc(10*time.Millisecond, func() { r.expireToken("aaaaaaaa") })
	r.mu.Unlock()

	time.Sleep(40 * time.Millisecond)
	assert.False(t, r.ConsumeToken("aaaaaaaa"))
}
