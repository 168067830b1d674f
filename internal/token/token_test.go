package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager("test-secret", "authd-test", time.Hour, time.Minute)
	require.NoError(t, err)
	return m
}

func TestManagerRequiresSecret(t *testing.T) {
	_, err := NewManager("", "authd-test", 0, 0)
	assert.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	m := newTestManager(t)

	raw, err := m.IssueSession("0xaaaa", "user-1")
	require.NoError(t, err)

	claims, err := m.ParseSession(raw)
	require.NoError(t, err)
	assert.Equal(t, "0xaaaa", claims.Wallet)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestSessionRejectsForeignSignature(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager("other-secret", "authd-test", time.Hour, time.Minute)
	require.NoError(t, err)

	raw, err := other.IssueSession("0xaaaa", "user-1")
	require.NoError(t, err)

	_, err = m.ParseSession(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionRejectsWrongIssuer(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager("test-secret", "someone-else", time.Hour, time.Minute)
	require.NoError(t, err)

	raw, err := other.IssueSession("0xaaaa", "user-1")
	require.NoError(t, err)

	_, err = m.ParseSession(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionRejectsGarbage(t *testing.T) {
	m := newTestManager(t)
	_, err := m.ParseSession("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChallengeRoundTrip(t *testing.T) {
	m := newTestManager(t)

	raw, err := m.IssueChallenge("abc123", PurposeRegistration)
	require.NoError(t, err)

	challenge, err := m.ParseChallenge(raw, PurposeRegistration)
	require.NoError(t, err)
	assert.Equal(t, "abc123", challenge)
}

func TestChallengePurposeIsScoped(t *testing.T) {
	m := newTestManager(t)

	// A registration challenge must never verify an authentication response
	raw, err := m.IssueChallenge("abc123", PurposeRegistration)
	require.NoError(t, err)

	_, err = m.ParseChallenge(raw, PurposeAuthentication)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChallengeExpires(t *testing.T) {
	m, err := NewManager("test-secret", "authd-test", time.Hour, time.Nanosecond)
	require.NoError(t, err)

	raw, err := m.IssueChallenge("abc123", PurposeAuthentication)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = m.ParseChallenge(raw, PurposeAuthentication)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
