// Package wallet binds a verified passkey ceremony to the device-local
// blockchain signing key. Private key material never leaves this package
// unencrypted except through Unlock.
package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const keystoreFormatVersion = 1

var (
	// ErrLocalStoreCorrupt is returned when a stored blob cannot be opened;
	// the only way forward is the recovery path.
	ErrLocalStoreCorrupt = errors.New("local credential store corrupt")

	// ErrBlobNotFound is returned when no blob exists for the user.
	ErrBlobNotFound = errors.New("no local credential blob")
)

// envelope is the on-disk JSON structure holding ciphertext and KDF
// parameters.
type envelope struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

func scryptParamsDefault() (N, r, p int) { return 1 << 15, 8, 1 }

// Keystore is per-device encrypted storage of wallet signing material,
// one sealed blob per user identifier.
type Keystore struct {
	dir    string
	secret []byte
	mu     sync.Mutex
}

// NewKeystore returns a Keystore rooted at dir. The secret is stretched to a
// fixed-size master input with SHA-256 so any non-empty string works.
func NewKeystore(dir, secret string) (*Keystore, error) {
	if secret == "" {
		return nil, fmt.Errorf("keystore secret must not be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keystore dir: %w", err)
	}
	sum := sha256.Sum256([]byte(secret))
	return &Keystore{dir: dir, secret: sum[:]}, nil
}

// blobPath hashes the user identifier so arbitrary identifiers cannot escape
// the keystore directory.
func (k *Keystore) blobPath(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return filepath.Join(k.dir, hex.EncodeToString(sum[:])+".blob")
}

// Save seals raw under a fresh salt and writes it for userID.
func (k *Keystore) Save(userID string, raw []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	N, r, p := scryptParamsDefault()
	key, err := scrypt.Key(k.secret, salt[:], N, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("failed to init cipher: %w", err)
	}

	// Zero nonce; the salt-bound key is unique per seal.
	var nonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, nonce[:], raw, salt[:])

	blob, err := json.Marshal(envelope{
		V:      keystoreFormatVersion,
		Salt:   salt[:],
		N:      N,
		R:      r,
		P:      p,
		Cipher: ct,
	})
	if err != nil {
		return fmt.Errorf("failed to encode blob: %w", err)
	}
	return os.WriteFile(k.blobPath(userID), blob, 0o600)
}

// Load opens the sealed blob for userID. A missing blob is ErrBlobNotFound;
// anything unreadable is ErrLocalStoreCorrupt.
func (k *Keystore) Load(userID string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	blob, err := os.ReadFile(k.blobPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrLocalStoreCorrupt, err)
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalStoreCorrupt, err)
	}
	if env.V > keystoreFormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrLocalStoreCorrupt, env.V)
	}

	key, err := scrypt.Key(k.secret, env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalStoreCorrupt, err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalStoreCorrupt, err)
	}
	var nonce [chacha20poly1305.NonceSize]byte
	raw, err := aead.Open(nil, nonce[:], env.Cipher, env.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: seal open failed", ErrLocalStoreCorrupt)
	}
	return raw, nil
}

// Clear removes the blob for userID. Clearing an absent blob is not an error.
func (k *Keystore) Clear(userID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	err := os.Remove(k.blobPath(userID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear blob: %w", err)
	}
	return nil
}

// ClearAll removes every blob on this device. Ledger records are untouched.
func (k *Keystore) ClearAll() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := os.ReadDir(k.dir)
	if err != nil {
		return fmt.Errorf("failed to read keystore dir: %w", err)
	}
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".blob" {
			continue
		}
		if err := os.Remove(filepath.Join(k.dir, ent.Name())); err != nil {
			return fmt.Errorf("failed to clear blob %s: %w", ent.Name(), err)
		}
	}
	return nil
}
