package ledger

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityPayloadRoundTrip(t *testing.T) {
	ident := Identity{
		Wallet:       "0xaaaa",
		UserID:       "u1",
		CredentialID: "c1",
		PublicKey:    []byte{0xa5, 0x01, 0x02},
		Counter:      7,
		Transports:   []string{"internal"},
	}
	payload, err := encodeIdentity(ident)
	require.NoError(t, err)

	decoded, ok := decodeIdentity(payload)
	require.True(t, ok)
	assert.Equal(t, ident.Wallet, decoded.Wallet)
	assert.Equal(t, ident.CredentialID, decoded.CredentialID)
	assert.Equal(t, ident.PublicKey, decoded.PublicKey)
	assert.Equal(t, uint32(7), decoded.Counter)
}

func TestDecodeIdentityFailsClosed(t *testing.T) {
	// Garbage bytes
	_, ok := decodeIdentity([]byte{0xff, 0x00, 0x01})
	assert.False(t, ok)

	// Wrong envelope kind
	payload, err := encodeBackupLink(BackupLink{Wallet: "0xaaaa", BackupWallet: "0xbbbb"})
	require.NoError(t, err)
	_, ok = decodeIdentity(payload)
	assert.False(t, ok)

	// Envelope body that is not an identity struct
	raw, err := cbor.Marshal("not a struct")
	require.NoError(t, err)
	payload, err = cbor.Marshal(envelope{Kind: kindIdentity, Body: raw})
	require.NoError(t, err)
	_, ok = decodeIdentity(payload)
	assert.False(t, ok)

	// Structurally valid but incomplete record
	payload, err = encodeIdentity(Identity{Wallet: "0xaaaa"})
	require.NoError(t, err)
	_, ok = decodeIdentity(payload)
	assert.False(t, ok)
}

func TestDecodeBackupLinkFailsClosed(t *testing.T) {
	payload, err := encodeBackupLink(BackupLink{Wallet: "0xaaaa", BackupWallet: "0xbbbb"})
	require.NoError(t, err)

	link, ok := decodeBackupLink(payload)
	require.True(t, ok)
	assert.Equal(t, "0xbbbb", link.BackupWallet)

	// Mistagged payload is absent, not an error
	other, err := encodeAuditRecord(AuditRecord{Operation: "x"})
	require.NoError(t, err)
	_, ok = decodeBackupLink(other)
	assert.False(t, ok)

	payload, err = encodeBackupLink(BackupLink{Wallet: "0xaaaa"})
	require.NoError(t, err)
	_, ok = decodeBackupLink(payload)
	assert.False(t, ok)
}
