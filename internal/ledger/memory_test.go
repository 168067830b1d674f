package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreIdentityRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	receipt, err := store.CreateIdentity(ctx, Identity{
		Wallet:       "0xAbCd000000000000000000000000000000000001",
		UserID:       "user-1",
		CredentialID: "cred-1",
		PublicKey:    []byte{1, 2, 3},
		Counter:      0,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.Key)
	assert.NotEmpty(t, receipt.TxHash)

	found, err := store.FindIdentityByCredentialID(ctx, "cred-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	// Wallet addresses are normalized to lower case on write
	assert.Equal(t, "0xabcd000000000000000000000000000000000001", found.Wallet)
	assert.Equal(t, "user-1", found.UserID)
}

func TestMemoryStoreFindUnknownCredential(t *testing.T) {
	store := NewMemoryStore()

	found, err := store.FindIdentityByCredentialID(context.Background(), "no-such-cred")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMemoryStoreListByWalletIsCaseInsensitive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateIdentity(ctx, Identity{Wallet: "0xAAAA", UserID: "u1", CredentialID: "c1"})
	require.NoError(t, err)
	_, err = store.CreateIdentity(ctx, Identity{Wallet: "0xaaaa", UserID: "u2", CredentialID: "c2"})
	require.NoError(t, err)
	_, err = store.CreateIdentity(ctx, Identity{Wallet: "0xbbbb", UserID: "u3", CredentialID: "c3"})
	require.NoError(t, err)

	idents, err := store.ListIdentitiesByWallet(ctx, "0xAAAA")
	require.NoError(t, err)
	assert.Len(t, idents, 2)
}

func TestMemoryStoreUpdateCounter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateIdentity(ctx, Identity{Wallet: "0xaaaa", UserID: "u1", CredentialID: "c1", Counter: 1})
	require.NoError(t, err)

	require.NoError(t, store.UpdateIdentityCounter(ctx, "c1", 5))

	found, err := store.FindIdentityByCredentialID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, uint32(5), found.Counter)
	assert.False(t, found.LastUsed.IsZero())
}

func TestMemoryStoreBackupLinkDedup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateBackupLink(ctx, BackupLink{Wallet: "0xaaaa", BackupWallet: "0xBBBB"})
	require.NoError(t, err)

	// Same pair in different case is still a duplicate
	_, err = store.CreateBackupLink(ctx, BackupLink{Wallet: "0xAAAA", BackupWallet: "0xbbbb"})
	assert.ErrorIs(t, err, ErrDuplicateBackupLink)

	links, err := store.ListBackupLinksByWallet(ctx, "0xaaaa")
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestMemoryStoreAuditRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateAuditRecord(ctx, AuditRecord{Operation: "identity.create", Wallet: "0xaaaa", TxHash: "0x1"})
	require.NoError(t, err)

	recs := store.AuditRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, "identity.create", recs[0].Operation)
}

func TestNormalizeWallet(t *testing.T) {
	assert.Equal(t, "0xabcd", NormalizeWallet("  0xABcd "))
	assert.Equal(t, "", NormalizeWallet("   "))
}
