package recovery

import (
	"crypto/ecdsa"
	"strconv"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signPersonal(t *testing.T, key *ecdsa.PrivateKey, message string) []byte {
	t.Helper()
	prefixed := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message)) + message
	hash := ethcrypto.Keccak256Hash([]byte(prefixed))
	sig, err := ethcrypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)
	return sig
}

func TestVerifyPersonalSign(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	msg := "Recover passkey wallet 0xaaaa with backup signer 0xbbbb"

	sig := signPersonal(t, key, msg)
	assert.NoError(t, VerifyPersonalSign(addr, msg, sig))
}

func TestVerifyPersonalSignWalletRecoveryParam(t *testing.T) {
	// Browser wallets report v as 27/28 rather than 0/1
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	msg := "hello"

	sig := signPersonal(t, key, msg)
	sig[64] += 27
	assert.NoError(t, VerifyPersonalSign(addr, msg, sig))
}

func TestVerifyPersonalSignRejectsWrongSigner(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(other.PublicKey).Hex()

	sig := signPersonal(t, key, "hello")
	assert.ErrorIs(t, VerifyPersonalSign(addr, "hello", sig), ErrProofInvalid)
}

func TestVerifyPersonalSignRejectsWrongMessage(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	sig := signPersonal(t, key, "hello")
	assert.ErrorIs(t, VerifyPersonalSign(addr, "goodbye", sig), ErrProofInvalid)
}

func TestVerifyPersonalSignRejectsMalformedInput(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	assert.ErrorIs(t, VerifyPersonalSign("not-an-address", "hello", make([]byte, 65)), ErrProofInvalid)
	assert.ErrorIs(t, VerifyPersonalSign(addr, "hello", []byte{1, 2, 3}), ErrProofInvalid)
}

func TestCanonicalMessagesNormalizeCase(t *testing.T) {
	assert.Equal(t, LinkMessage("0xAAAA", "0xBBBB"), LinkMessage("0xaaaa", "0xbbbb"))
	assert.Equal(t, RecoveryMessage("0xAAAA", "0xBBBB"), RecoveryMessage("0xaaaa", "0xbbbb"))
	assert.NotEqual(t, LinkMessage("0xaaaa", "0xbbbb"), RecoveryMessage("0xaaaa", "0xbbbb"))
}
