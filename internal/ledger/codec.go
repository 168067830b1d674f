package ledger

import (
	"github.com/fxamacker/cbor/v2"
)

// Entity kinds, stored both as a payload envelope tag and as the "type"
// annotation used for queries.
const (
	kindIdentity   = "identity"
	kindBackupLink = "backup-link"
	kindAudit      = "audit"
)

// envelope tags every payload so a decoder can fail closed on entities it
// does not understand.
type envelope struct {
	Kind string          `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

func encodeIdentity(ident Identity) ([]byte, error) {
	return encodePayload(kindIdentity, ident)
}

func encodeBackupLink(link BackupLink) ([]byte, error) {
	return encodePayload(kindBackupLink, link)
}

func encodeAuditRecord(rec AuditRecord) ([]byte, error) {
	return encodePayload(kindAudit, rec)
}

func encodePayload(kind string, body any) ([]byte, error) {
	raw, err := cbor.Marshal(body)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(envelope{Kind: kind, Body: raw})
}

// decodeIdentity unwraps an identity payload. Any malformed, mistagged or
// incomplete entity is reported as absent rather than propagated.
func decodeIdentity(payload []byte) (*Identity, bool) {
	var env envelope
	if err := cbor.Unmarshal(payload, &env); err != nil || env.Kind != kindIdentity {
		return nil, false
	}
	var ident Identity
	if err := cbor.Unmarshal(env.Body, &ident); err != nil {
		return nil, false
	}
	if ident.Wallet == "" || ident.CredentialID == "" || len(ident.PublicKey) == 0 {
		return nil, false
	}
	return &ident, true
}

// decodeBackupLink unwraps a backup-link payload, failing closed like
// decodeIdentity.
func decodeBackupLink(payload []byte) (*BackupLink, bool) {
	var env envelope
	if err := cbor.Unmarshal(payload, &env); err != nil || env.Kind != kindBackupLink {
		return nil, false
	}
	var link BackupLink
	if err := cbor.Unmarshal(env.Body, &link); err != nil {
		return nil, false
	}
	if link.Wallet == "" || link.BackupWallet == "" {
		return nil, false
	}
	return &link, true
}
