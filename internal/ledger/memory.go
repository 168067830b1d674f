package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	byCredID map[string]*Identity
	links    map[string][]BackupLink
	audits   []AuditRecord
	seq      int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byCredID: make(map[string]*Identity),
		links:    make(map[string][]BackupLink),
	}
}

func (s *MemoryStore) receipt() Receipt {
	s.seq++
	return Receipt{
		Key:    fmt.Sprintf("mem-%d", s.seq),
		TxHash: fmt.Sprintf("0x%064x", s.seq),
	}
}

// CreateIdentity stores a new credential identity record.
func (s *MemoryStore) CreateIdentity(_ context.Context, ident Identity) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident.Wallet = NormalizeWallet(ident.Wallet)
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}
	cp := ident
	s.byCredID[ident.CredentialID] = &cp
	return s.receipt(), nil
}

// FindIdentityByCredentialID returns the identity for a credential, or nil.
func (s *MemoryStore) FindIdentityByCredentialID(_ context.Context, credentialID string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byCredID[credentialID]
	if !ok {
		return nil, nil
	}
	cp := *ident
	return &cp, nil
}

// ListIdentitiesByWallet returns all identities registered for a wallet.
func (s *MemoryStore) ListIdentitiesByWallet(_ context.Context, wallet string) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wallet = NormalizeWallet(wallet)
	var out []Identity
	for _, ident := range s.byCredID {
		if ident.Wallet == wallet {
			out = append(out, *ident)
		}
	}
	return out, nil
}

// UpdateIdentityCounter persists the post-assertion counter for a credential.
func (s *MemoryStore) UpdateIdentityCounter(_ context.Context, credentialID string, counter uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byCredID[credentialID]
	if !ok {
		return fmt.Errorf("%w: unknown credential %s", ErrUnavailable, credentialID)
	}
	ident.Counter = counter
	ident.LastUsed = time.Now().UTC()
	return nil
}

// CreateBackupLink stores a backup link, rejecting case-insensitive
// duplicates with ErrDuplicateBackupLink.
func (s *MemoryStore) CreateBackupLink(_ context.Context, link BackupLink) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link.Wallet = NormalizeWallet(link.Wallet)
	link.BackupWallet = NormalizeWallet(link.BackupWallet)
	for _, existing := range s.links[link.Wallet] {
		if existing.BackupWallet == link.BackupWallet {
			return Receipt{}, ErrDuplicateBackupLink
		}
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	s.links[link.Wallet] = append(s.links[link.Wallet], link)
	return s.receipt(), nil
}

// ListBackupLinksByWallet returns all backup links for a wallet.
func (s *MemoryStore) ListBackupLinksByWallet(_ context.Context, wallet string) ([]BackupLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := s.links[NormalizeWallet(wallet)]
	out := make([]BackupLink, len(links))
	copy(out, links)
	return out, nil
}

// CreateAuditRecord appends a bookkeeping record.
func (s *MemoryStore) CreateAuditRecord(_ context.Context, rec AuditRecord) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	s.audits = append(s.audits, rec)
	return s.receipt(), nil
}

// AuditRecords returns a snapshot of recorded audit entries.
func (s *MemoryStore) AuditRecords() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AuditRecord, len(s.audits))
	copy(out, s.audits)
	return out
}

var _ Store = (*MemoryStore)(nil)
