// Package ceremony implements the WebAuthn ceremony engine: registration and
// authentication challenge generation, response verification, and the
// anti-clone counter rule. Ceremonies are stateless request/response
// exchanges; the challenge is round-tripped by the caller and re-verified
// against the signed response, so any instance can verify any response.
package ceremony

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/sirupsen/logrus"

	"mentormesh/internal/ledger"
)

// IdentityDirectory is the slice of the ledger the engine reads during
// ceremonies.
type IdentityDirectory interface {
	FindIdentityByCredentialID(ctx context.Context, credentialID string) (*ledger.Identity, error)
	ListIdentitiesByWallet(ctx context.Context, wallet string) ([]ledger.Identity, error)
}

// Config carries the relying-party identity and the origin allow-list. More
// than one origin is supported so local and production environments verify
// against the same engine.
type Config struct {
	RPID           string
	RPName         string
	AllowedOrigins []string
}

// Engine generates and verifies registration/authentication ceremonies.
// The primary directory is the injected identity repository; discovery is a
// best-effort fallback consulted only to tell "wrong device, known identity"
// apart from a completely unknown credential.
type Engine struct {
	wa        *webauthn.WebAuthn
	primary   IdentityDirectory
	discovery IdentityDirectory
	origins   []string
	log       *logrus.Entry
}

// New builds an Engine. discovery may be nil, or the same store as primary.
func New(cfg Config, primary, discovery IdentityDirectory, log *logrus.Entry) (*Engine, error) {
	if len(cfg.AllowedOrigins) == 0 {
		return nil, fmt.Errorf("at least one allowed origin is required")
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:                  cfg.RPID,
		RPDisplayName:         cfg.RPName,
		RPOrigins:             cfg.AllowedOrigins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init webauthn: %w", err)
	}
	return &Engine{
		wa:        wa,
		primary:   primary,
		discovery: discovery,
		origins:   cfg.AllowedOrigins,
		log:       log,
	}, nil
}

// Registration is the verified outcome of a registration ceremony.
type Registration struct {
	CredentialID string
	PublicKey    []byte
	Counter      uint32
	Transports   []string
}

// Authentication is the outcome of an authentication ceremony. When Verified
// is false, FoundOnArkiv/RecoveryPossible distinguish a known identity on the
// wrong device from a completely unknown credential.
type Authentication struct {
	Verified         bool
	Wallet           string
	UserID           string
	CredentialID     string
	NewCounter       uint32
	FoundOnArkiv     bool
	RecoveryPossible bool
}

// RegistrationOptions generates credential-creation options for userID. If
// wallet is set, every credential already registered for it is placed on the
// exclusion list so an enrolled device cannot mint a duplicate.
func (e *Engine) RegistrationOptions(ctx context.Context, userID, displayName, wallet string) (*protocol.CredentialCreation, string, error) {
	user := newCeremonyUser(userID, displayName, nil)

	var opts []webauthn.RegistrationOption
	if wallet != "" {
		idents, err := e.primary.ListIdentitiesByWallet(ctx, wallet)
		if err != nil {
			return nil, "", err
		}
		var exclusions []protocol.CredentialDescriptor
		for _, ident := range idents {
			if cred, ok := credentialFromIdentity(ident); ok {
				exclusions = append(exclusions, cred.Descriptor())
			}
		}
		if len(exclusions) > 0 {
			opts = append(opts, webauthn.WithExclusions(exclusions))
		}
	}

	creation, session, err := e.wa.BeginRegistration(user, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build registration options: %w", err)
	}
	return creation, session.Challenge, nil
}

// FinishRegistration verifies a signed attestation response against the
// issued challenge and the origin allow-list, and extracts the new
// credential. It never partially succeeds.
func (e *Engine) FinishRegistration(ctx context.Context, userID, challenge, origin string, response io.Reader) (*Registration, error) {
	if err := e.checkOrigin(origin); err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(response)
	if err != nil {
		return nil, classify(err)
	}

	user := newCeremonyUser(userID, "", nil)
	session := webauthn.SessionData{
		Challenge: challenge,
		UserID:    user.WebAuthnID(),
	}
	cred, err := e.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, classify(err)
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return &Registration{
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKey:    cred.PublicKey,
		Counter:      cred.Authenticator.SignCount,
		Transports:   transports,
	}, nil
}

// AuthenticationOptions generates assertion options. With a wallet, the
// ledger's credentials for it become the allow-list, which is what lets a
// device with stale local state still be offered the right passkey. Without
// one, a discoverable-credential challenge is issued.
func (e *Engine) AuthenticationOptions(ctx context.Context, userID, wallet string) (*protocol.CredentialAssertion, string, error) {
	if wallet != "" {
		idents, err := e.primary.ListIdentitiesByWallet(ctx, wallet)
		if err != nil {
			return nil, "", err
		}
		if len(idents) > 0 {
			if userID == "" {
				userID = idents[0].UserID
			}
			user := newCeremonyUser(userID, "", idents)
			if len(user.credentials) > 0 {
				assertion, session, err := e.wa.BeginLogin(user)
				if err != nil {
					return nil, "", fmt.Errorf("failed to build authentication options: %w", err)
				}
				return assertion, session.Challenge, nil
			}
		}
	}

	assertion, session, err := e.wa.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build authentication options: %w", err)
	}
	return assertion, session.Challenge, nil
}

// FinishAuthentication verifies a signed assertion. On success the caller
// persists NewCounter; the engine itself never writes.
func (e *Engine) FinishAuthentication(ctx context.Context, challenge, origin, declaredWallet string, response io.Reader) (*Authentication, error) {
	if err := e.checkOrigin(origin); err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(response)
	if err != nil {
		return nil, classify(err)
	}
	credID := base64.RawURLEncoding.EncodeToString(parsed.RawID)

	ident, err := e.primary.FindIdentityByCredentialID(ctx, credID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return e.resolveUnknown(ctx, credID, declaredWallet)
	}

	user := newCeremonyUser(ident.UserID, "", []ledger.Identity{*ident})
	if len(user.credentials) == 0 {
		return &Authentication{}, ErrCredentialNotFound
	}
	session := webauthn.SessionData{
		Challenge:            challenge,
		UserID:               user.WebAuthnID(),
		AllowedCredentialIDs: [][]byte{user.credentials[0].ID},
	}

	updated, err := e.wa.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, classify(err)
	}
	if updated.Authenticator.CloneWarning {
		e.log.WithFields(logrus.Fields{
			"wallet":     ident.Wallet,
			"credential": credID,
		}).Warn("assertion counter did not advance")
		return &Authentication{}, ErrPossibleClone
	}

	return &Authentication{
		Verified:     true,
		Wallet:       ident.Wallet,
		UserID:       ident.UserID,
		CredentialID: credID,
		NewCounter:   updated.Authenticator.SignCount,
	}, nil
}

// resolveUnknown runs the best-effort discovery lookup for a credential the
// primary directory does not know, so the caller can offer a recovery path
// instead of a dead end.
func (e *Engine) resolveUnknown(ctx context.Context, credID, declaredWallet string) (*Authentication, error) {
	if e.discovery != nil {
		found, err := e.discovery.FindIdentityByCredentialID(ctx, credID)
		if err == nil && found != nil {
			e.log.WithFields(logrus.Fields{
				"credential": credID,
				"wallet":     found.Wallet,
			}).Info("credential known to ledger but not to this repository")
			return &Authentication{FoundOnArkiv: true, RecoveryPossible: true}, ErrCredentialNotFound
		}
	}
	if declaredWallet != "" {
		e.log.WithFields(logrus.Fields{
			"credential": credID,
			"declared":   ledger.NormalizeWallet(declaredWallet),
		}).Info("unknown credential asserted")
	}
	return &Authentication{}, ErrCredentialNotFound
}

func (e *Engine) checkOrigin(origin string) error {
	for _, allowed := range e.origins {
		if origin == allowed {
			return nil
		}
	}
	return ErrOriginMismatch
}
