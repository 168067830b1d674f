package recovery

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"mentormesh/internal/ledger"
)

// ErrProofInvalid is returned when a backup signer's signature does not
// recover to the claimed address.
var ErrProofInvalid = errors.New("backup signer proof invalid")

// LinkMessage is the canonical text a backup signer signs to authorize the
// creation of a backup link. Signing it is the proof of control; no extra
// challenge round trip is needed.
func LinkMessage(wallet, backupWallet string) string {
	return fmt.Sprintf("Register backup signer %s for passkey wallet %s",
		ledger.NormalizeWallet(backupWallet), ledger.NormalizeWallet(wallet))
}

// RecoveryMessage is the canonical text a backup signer signs to vouch for
// recovery of the wallet.
func RecoveryMessage(wallet, backupWallet string) string {
	return fmt.Sprintf("Recover passkey wallet %s with backup signer %s",
		ledger.NormalizeWallet(wallet), ledger.NormalizeWallet(backupWallet))
}

// VerifyPersonalSign checks an Ethereum personal_sign signature over message
// against the claimed signer address, by recovering the public key from the
// signature.
func VerifyPersonalSign(address, message string, signature []byte) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: malformed address", ErrProofInvalid)
	}
	if len(signature) != 65 {
		return fmt.Errorf("%w: signature must be 65 bytes", ErrProofInvalid)
	}

	// personal_sign prefixes the message before hashing.
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := ethcrypto.Keccak256Hash([]byte(prefixed))

	// Wallets report the recovery parameter as 27/28.
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%w: public key recovery failed", ErrProofInvalid)
	}
	if ethcrypto.PubkeyToAddress(*pub) != common.HexToAddress(address) {
		return fmt.Errorf("%w: recovered address does not match %s", ErrProofInvalid, ledger.NormalizeWallet(address))
	}
	return nil
}
