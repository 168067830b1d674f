package ceremony

import (
	"errors"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
)

// Ceremony failures are terminal for the current attempt; retrying always
// means issuing a brand-new challenge.
var (
	ErrChallengeMismatch  = errors.New("challenge mismatch")
	ErrOriginMismatch     = errors.New("origin not allowed")
	ErrRpIDMismatch       = errors.New("relying party ID mismatch")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrPossibleClone      = errors.New("possible cloned credential detected")
	ErrSignatureInvalid   = errors.New("signature verification failed")
)

// classify maps library verification failures onto the ceremony failure
// taxonomy. Anything unrecognized is treated as a signature failure, the
// most conservative bucket.
func classify(err error) error {
	var pe *protocol.Error
	if !errors.As(err, &pe) {
		return ErrSignatureInvalid
	}

	detail := strings.ToLower(pe.Details + " " + pe.DevInfo)
	switch {
	case strings.Contains(detail, "challenge"):
		return ErrChallengeMismatch
	case strings.Contains(detail, "origin"):
		return ErrOriginMismatch
	case strings.Contains(detail, "rp hash") || strings.Contains(detail, "rp id"):
		return ErrRpIDMismatch
	default:
		return ErrSignatureInvalid
	}
}
