// Package ledger is the Identity Ledger: the append-only entity store of
// record for passkey credential identities and backup wallet links. The
// concrete store is the Arkiv data layer; an in-memory implementation backs
// tests and local development.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnavailable is returned when the ledger cannot be read or written.
	// The surrounding write may be retried; verification results must not be.
	ErrUnavailable = errors.New("identity ledger unavailable")

	// ErrDuplicateBackupLink is returned when a (wallet, backupWallet) pair
	// is already registered.
	ErrDuplicateBackupLink = errors.New("backup link already registered")
)

// Identity is the durable record binding a device passkey to a wallet
// address. A wallet may hold several, one per device.
type Identity struct {
	Wallet       string    `json:"wallet" cbor:"1,keyasint"`
	UserID       string    `json:"userId" cbor:"2,keyasint"`
	CredentialID string    `json:"credentialId" cbor:"3,keyasint"`
	PublicKey    []byte    `json:"publicKey" cbor:"4,keyasint"`
	Counter      uint32    `json:"counter" cbor:"5,keyasint"`
	Transports   []string  `json:"transports,omitempty" cbor:"6,keyasint,omitempty"`
	DeviceName   string    `json:"deviceName,omitempty" cbor:"7,keyasint,omitempty"`
	CreatedAt    time.Time `json:"createdAt" cbor:"8,keyasint"`
	LastUsed     time.Time `json:"lastUsed" cbor:"9,keyasint"`
}

// BackupLink records that a secondary signer may vouch for recovery of the
// passkey wallet. Immutable once written.
type BackupLink struct {
	Wallet       string    `json:"wallet" cbor:"1,keyasint"`
	BackupWallet string    `json:"backupWallet" cbor:"2,keyasint"`
	CreatedAt    time.Time `json:"createdAt" cbor:"3,keyasint"`
}

// AuditRecord is a secondary bookkeeping entity, written best-effort after a
// primary operation confirmed.
type AuditRecord struct {
	Operation string    `json:"operation" cbor:"1,keyasint"`
	Wallet    string    `json:"wallet,omitempty" cbor:"2,keyasint,omitempty"`
	EntityKey string    `json:"entityKey,omitempty" cbor:"3,keyasint,omitempty"`
	TxHash    string    `json:"txHash,omitempty" cbor:"4,keyasint,omitempty"`
	At        time.Time `json:"at" cbor:"5,keyasint"`
}

// Receipt identifies a confirmed ledger write.
type Receipt struct {
	Key    string `json:"key"`
	TxHash string `json:"txHash"`
}

// Store is the full set of ledger operations the auth service needs.
// Lookups that miss return (nil, nil) / an empty slice; only transport or
// node failures produce ErrUnavailable.
type Store interface {
	CreateIdentity(ctx context.Context, ident Identity) (Receipt, error)
	FindIdentityByCredentialID(ctx context.Context, credentialID string) (*Identity, error)
	ListIdentitiesByWallet(ctx context.Context, wallet string) ([]Identity, error)
	UpdateIdentityCounter(ctx context.Context, credentialID string, counter uint32) error

	CreateBackupLink(ctx context.Context, link BackupLink) (Receipt, error)
	ListBackupLinksByWallet(ctx context.Context, wallet string) ([]BackupLink, error)

	CreateAuditRecord(ctx context.Context, rec AuditRecord) (Receipt, error)
}

// NormalizeWallet canonicalizes a wallet address for use as a lookup key.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
