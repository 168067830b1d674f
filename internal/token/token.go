// Package token issues the two short-lived HS256 tokens the auth service
// relies on: session tokens minted after a verified ceremony, and challenge
// tokens that carry an issued ceremony challenge back to a stateless
// verifier with an enforced expiry.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Challenge token purposes; a registration challenge must never verify an
// authentication response or vice versa.
const (
	PurposeRegistration   = "registration"
	PurposeAuthentication = "authentication"
)

var (
	// ErrInvalidToken covers malformed, expired, mis-signed and
	// wrong-purpose tokens alike.
	ErrInvalidToken = errors.New("invalid token")
)

// Manager signs and validates tokens with a shared HMAC secret.
type Manager struct {
	secret       []byte
	issuer       string
	sessionTTL   time.Duration
	challengeTTL time.Duration
}

// NewManager returns a Manager. TTLs of zero fall back to 12h sessions and
// 60s challenges.
func NewManager(secret, issuer string, sessionTTL, challengeTTL time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	if challengeTTL <= 0 {
		challengeTTL = 60 * time.Second
	}
	return &Manager{
		secret:       []byte(secret),
		issuer:       issuer,
		sessionTTL:   sessionTTL,
		challengeTTL: challengeTTL,
	}, nil
}

// SessionClaims identifies an authenticated wallet session.
type SessionClaims struct {
	Wallet string `json:"wallet"`
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type challengeClaims struct {
	Challenge string `json:"challenge"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// IssueSession mints a session token for a verified wallet.
func (m *Manager) IssueSession(wallet, userID string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Wallet: wallet,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   wallet,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseSession validates a session token and returns its claims.
func (m *Manager) ParseSession(raw string) (*SessionClaims, error) {
	var claims SessionClaims
	if err := m.parse(raw, &claims); err != nil {
		return nil, err
	}
	if claims.Wallet == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// IssueChallenge wraps a ceremony challenge in a signed, short-lived token.
func (m *Manager) IssueChallenge(challenge, purpose string) (string, error) {
	now := time.Now()
	claims := challengeClaims{
		Challenge: challenge,
		Purpose:   purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.challengeTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseChallenge validates a challenge token for the given purpose and
// returns the embedded challenge.
func (m *Manager) ParseChallenge(raw, purpose string) (string, error) {
	var claims challengeClaims
	if err := m.parse(raw, &claims); err != nil {
		return "", err
	}
	if claims.Purpose != purpose || claims.Challenge == "" {
		return "", ErrInvalidToken
	}
	return claims.Challenge, nil
}

func (m *Manager) parse(raw string, claims jwt.Claims) error {
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(m.issuer))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}
