package wallet

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBinding(t *testing.T) *Binding {
	ks, err := NewKeystore(t.TempDir(), "test-secret")
	require.NoError(t, err)
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewBinding(ks, l.WithField("test", true))
}

func TestEnsureMintsThenReuses(t *testing.T) {
	b := testBinding(t)

	addr, created, err := b.Ensure("user-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Equal(t, strings.ToLower(addr), addr)

	again, created, err := b.Ensure("user-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, addr, again)
}

func TestEnsureIsolatesUsers(t *testing.T) {
	b := testBinding(t)

	a1, _, err := b.Ensure("user-1")
	require.NoError(t, err)
	a2, _, err := b.Ensure("user-2")
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)
}

func TestUnlockMatchesEnsure(t *testing.T) {
	b := testBinding(t)

	addr, _, err := b.Ensure("user-1")
	require.NoError(t, err)

	priv, unlocked, err := b.Unlock("user-1")
	require.NoError(t, err)
	assert.Equal(t, addr, unlocked)
	assert.Equal(t, addr, AddressOf(priv))
}

func TestUnlockUnknownUser(t *testing.T) {
	b := testBinding(t)

	_, _, err := b.Unlock("never-seen")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestResetMintsFreshKey(t *testing.T) {
	b := testBinding(t)

	before, _, err := b.Ensure("user-1")
	require.NoError(t, err)
	require.NoError(t, b.Reset("user-1"))

	after, created, err := b.Ensure("user-1")
	require.NoError(t, err)
	assert.True(t, created)
	// A reset never resurrects the old key
	assert.NotEqual(t, before, after)
}

func TestResetAll(t *testing.T) {
	b := testBinding(t)

	_, _, err := b.Ensure("user-1")
	require.NoError(t, err)
	_, _, err = b.Ensure("user-2")
	require.NoError(t, err)

	require.NoError(t, b.ResetAll())
	_, _, err = b.Unlock("user-1")
	assert.ErrorIs(t, err, ErrBlobNotFound)
	_, _, err = b.Unlock("user-2")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
