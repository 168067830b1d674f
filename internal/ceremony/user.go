package ceremony

import (
	"encoding/base64"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"mentormesh/internal/ledger"
)

// ceremonyUser adapts a user identifier plus its ledger identities to the
// webauthn.User interface.
type ceremonyUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func newCeremonyUser(userID, displayName string, idents []ledger.Identity) *ceremonyUser {
	u := &ceremonyUser{
		id:          []byte(userID),
		name:        userID,
		displayName: displayName,
	}
	if u.displayName == "" {
		u.displayName = userID
	}
	for _, ident := range idents {
		if cred, ok := credentialFromIdentity(ident); ok {
			u.credentials = append(u.credentials, cred)
		}
	}
	return u
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return u.id }
func (u *ceremonyUser) WebAuthnName() string                       { return u.name }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *ceremonyUser) WebAuthnIcon() string                       { return "" }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// credentialFromIdentity rebuilds the library credential from a ledger
// record. Undecodable credential IDs are skipped rather than failing the
// whole ceremony.
func credentialFromIdentity(ident ledger.Identity) (webauthn.Credential, bool) {
	rawID, err := base64.RawURLEncoding.DecodeString(ident.CredentialID)
	if err != nil {
		return webauthn.Credential{}, false
	}
	var transports []protocol.AuthenticatorTransport
	for _, t := range ident.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:        rawID,
		PublicKey: ident.PublicKey,
		Transport: transports,
		Authenticator: webauthn.Authenticator{
			SignCount: ident.Counter,
		},
	}, true
}
