package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// signingMaterial is the plaintext layout of a sealed keystore blob.
type signingMaterial struct {
	PrivateKey string `json:"privateKey"` // hex, secp256k1
}

// Binding derives and unlocks the local signing key for a user. Callers must
// only invoke it after the ceremony engine reports a verified result.
type Binding struct {
	ks  *Keystore
	log *logrus.Entry
}

// NewBinding returns a Binding over the given keystore.
func NewBinding(ks *Keystore, log *logrus.Entry) *Binding {
	return &Binding{ks: ks, log: log}
}

// Ensure loads the signing key for userID, generating and sealing a fresh
// one if none exists. It returns the lowercase wallet address and whether a
// new key was minted.
func (b *Binding) Ensure(userID string) (addr string, created bool, err error) {
	priv, err := b.load(userID)
	switch {
	case err == nil:
		return AddressOf(priv), false, nil
	case errors.Is(err, ErrBlobNotFound):
	default:
		return "", false, err
	}

	priv, err = ethcrypto.GenerateKey()
	if err != nil {
		return "", false, fmt.Errorf("failed to generate signing key: %w", err)
	}
	raw, err := json.Marshal(signingMaterial{PrivateKey: fmt.Sprintf("%x", ethcrypto.FromECDSA(priv))})
	if err != nil {
		return "", false, fmt.Errorf("failed to encode signing material: %w", err)
	}
	if err := b.ks.Save(userID, raw); err != nil {
		return "", false, err
	}
	addr = AddressOf(priv)
	b.log.WithField("wallet", addr).Info("minted device signing key")
	return addr, true, nil
}

// Unlock returns the private key and wallet address for userID.
func (b *Binding) Unlock(userID string) (*ecdsa.PrivateKey, string, error) {
	priv, err := b.load(userID)
	if err != nil {
		return nil, "", err
	}
	return priv, AddressOf(priv), nil
}

func (b *Binding) load(userID string) (*ecdsa.PrivateKey, error) {
	raw, err := b.ks.Load(userID)
	if err != nil {
		return nil, err
	}
	var mat signingMaterial
	if err := json.Unmarshal(raw, &mat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalStoreCorrupt, err)
	}
	priv, err := ethcrypto.HexToECDSA(mat.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalStoreCorrupt, err)
	}
	return priv, nil
}

// Reset forgets the local credential for userID. Ledger records survive, so
// the device can re-authenticate with its platform credential or recover via
// a backup signer.
func (b *Binding) Reset(userID string) error {
	return b.ks.Clear(userID)
}

// ResetAll forgets every local credential on this device.
func (b *Binding) ResetAll() error {
	return b.ks.ClearAll()
}

// AddressOf returns the lowercase wallet address for a signing key.
func AddressOf(priv *ecdsa.PrivateKey) string {
	return strings.ToLower(ethcrypto.PubkeyToAddress(priv.PublicKey).Hex())
}
