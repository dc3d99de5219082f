package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

var ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")

// ValidatePublicKey checks if a base64-encoded string is a valid Ed25519 public key.
func ValidatePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	// The key must decode to a curve point, or no exchange key can be derived from it.
	if _, err := new(edwards25519.Point).SetBytes(decoded); err != nil {
		return nil, fmt.Errorf("%w: not a curve point", ErrInvalidPublicKey)
	}

	return ed25519.PublicKey(decoded), nil
}
