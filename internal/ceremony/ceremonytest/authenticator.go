// Package ceremonytest provides a software authenticator for exercising
// registration and authentication ceremonies end to end in tests.
package ceremonytest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// Authenticator emulates a platform authenticator holding one ES256
// credential.
type Authenticator struct {
	Key          *ecdsa.PrivateKey
	CredentialID []byte
	rpIDHash     [32]byte
}

// New mints an authenticator scoped to rpID with a random credential ID.
func New(t *testing.T, rpID string) *Authenticator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	credID := make([]byte, 32)
	_, err = rand.Read(credID)
	require.NoError(t, err)

	return &Authenticator{
		Key:          key,
		CredentialID: credID,
		rpIDHash:     sha256.Sum256([]byte(rpID)),
	}
}

// CredentialIDString returns the credential ID the way ledger records carry
// it.
func (a *Authenticator) CredentialIDString() string {
	return base64.RawURLEncoding.EncodeToString(a.CredentialID)
}

// coseKey returns the credential public key as a COSE_Key EC2 structure.
func (a *Authenticator) coseKey(t *testing.T) []byte {
	t.Helper()
	x := a.Key.PublicKey.X.FillBytes(make([]byte, 32))
	y := a.Key.PublicKey.Y.FillBytes(make([]byte, 32))
	raw, err := cbor.Marshal(map[int]any{
		1:  2,  // kty: EC2
		3:  -7, // alg: ES256
		-1: 1,  // crv: P-256
		-2: x,
		-3: y,
	})
	require.NoError(t, err)
	return raw
}

// PublicKeyCOSE exposes the COSE key bytes for seeding ledger fixtures
// directly.
func (a *Authenticator) PublicKeyCOSE(t *testing.T) []byte {
	return a.coseKey(t)
}

func (a *Authenticator) authData(t *testing.T, flags byte, counter uint32, attested bool) []byte {
	t.Helper()
	data := make([]byte, 0, 128)
	data = append(data, a.rpIDHash[:]...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, counter)
	if attested {
		var aaguid [16]byte
		data = append(data, aaguid[:]...)
		data = binary.BigEndian.AppendUint16(data, uint16(len(a.CredentialID)))
		data = append(data, a.CredentialID...)
		data = append(data, a.coseKey(t)...)
	}
	return data
}

func clientData(t *testing.T, ceremonyType, challenge, origin string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"type":      ceremonyType,
		"challenge": challenge,
		"origin":    origin,
	})
	require.NoError(t, err)
	return raw
}

type attestationObject struct {
	AuthData []byte         `cbor:"authData"`
	Fmt      string         `cbor:"fmt"`
	AttStmt  map[string]any `cbor:"attStmt"`
}

// AttestationResponse produces the JSON body a browser would post after
// navigator.credentials.create, using attestation format "none".
func (a *Authenticator) AttestationResponse(t *testing.T, challenge, origin string) []byte {
	t.Helper()
	// UP | UV | AT
	authData := a.authData(t, 0x45, 0, true)
	attObj, err := cbor.Marshal(attestationObject{
		AuthData: authData,
		Fmt:      "none",
		AttStmt:  map[string]any{},
	})
	require.NoError(t, err)

	cd := clientData(t, "webauthn.create", challenge, origin)
	body, err := json.Marshal(map[string]any{
		"id":    base64.RawURLEncoding.EncodeToString(a.CredentialID),
		"rawId": base64.RawURLEncoding.EncodeToString(a.CredentialID),
		"type":  "public-key",
		"response": map[string]string{
			"clientDataJSON":    base64.RawURLEncoding.EncodeToString(cd),
			"attestationObject": base64.RawURLEncoding.EncodeToString(attObj),
		},
	})
	require.NoError(t, err)
	return body
}

// AssertionResponse produces the JSON body a browser would post after
// navigator.credentials.get, signed over the given counter. signer defaults
// to the authenticator's own key; pass a different key to forge a bad
// signature.
func (a *Authenticator) AssertionResponse(t *testing.T, challenge, origin, userID string, counter uint32, signer *ecdsa.PrivateKey) []byte {
	t.Helper()
	if signer == nil {
		signer = a.Key
	}
	// UP | UV
	authData := a.authData(t, 0x05, counter, false)
	cd := clientData(t, "webauthn.get", challenge, origin)
	cdHash := sha256.Sum256(cd)

	digest := sha256.Sum256(append(append([]byte{}, authData...), cdHash[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, signer, digest[:])
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"id":    base64.RawURLEncoding.EncodeToString(a.CredentialID),
		"rawId": base64.RawURLEncoding.EncodeToString(a.CredentialID),
		"type":  "public-key",
		"response": map[string]string{
			"clientDataJSON":    base64.RawURLEncoding.EncodeToString(cd),
			"authenticatorData": base64.RawURLEncoding.EncodeToString(authData),
			"signature":         base64.RawURLEncoding.EncodeToString(sig),
			"userHandle":        base64.RawURLEncoding.EncodeToString([]byte(userID)),
		},
	})
	require.NoError(t, err)
	return body
}
