package renex

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// Key material for end-to-end encryption. Messages are not encrypted yet;
// the pair is generated and published so peers can exchange keys later.

const privateKeyFile = "private.key"

// KeyError represents a key handling error.
type KeyError struct {
	Message string
}

func (e *KeyError) Error() string {
	return e.Message
}

// KeyPair is the user's long-term Ed25519 key pair.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair generates a new Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// LoadKeyPair loads the key pair stored in dir.
func LoadKeyPair(dir string) (*KeyPair, error) {
	data, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, err
	}

	seed, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, &KeyError{Message: fmt.Sprintf("invalid key file: %v", err)}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, &KeyError{Message: fmt.Sprintf("invalid seed length: %d, expected %d", len(seed), ed25519.SeedSize)}
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// LoadOrGenerateKeyPair returns the stored key pair, creating and saving one
// if none exists.
func LoadOrGenerateKeyPair(dir string) (kp *KeyPair, created bool, err error) {
	kp, err = LoadKeyPair(dir)
	if err == nil {
		return kp, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	kp, err = GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := kp.Save(dir); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}

// Save writes the private seed to dir.
func (kp *KeyPair) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	seed := base64.StdEncoding.EncodeToString(kp.Private.Seed())
	return os.WriteFile(filepath.Join(dir, privateKeyFile), []byte(seed), 0600)
}

// PublicKeyBase64 returns the base64-encoded Ed25519 public key.
func (kp *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.Public)
}

// ExchangeKey returns the X25519 public key corresponding to the Ed25519
// public key, for future key agreement.
func (kp *KeyPair) ExchangeKey() ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(kp.Public)
	if err != nil {
		return nil, &KeyError{Message: fmt.Sprintf("invalid Ed25519 public key: %v", err)}
	}
	return p.BytesMontgomery(), nil
}

// x25519Private converts the Ed25519 seed to an X25519 private scalar.
func (kp *KeyPair) x25519Private() []byte {
	h := sha512.Sum512(kp.Private.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

// VerifyExchangeKey checks that the Montgomery form of the public key
// matches the X25519 key derived from the private seed.
func (kp *KeyPair) VerifyExchangeKey() error {
	want, err := kp.ExchangeKey()
	if err != nil {
		return err
	}
	got, err := curve25519.X25519(kp.x25519Private(), curve25519.Basepoint)
	if err != nil {
		return &KeyError{Message: fmt.Sprintf("failed to derive X25519 public key: %v", err)}
	}
	if string(got) != string(want) {
		return &KeyError{Message: "exchange key mismatch"}
	}
	return nil
}

// IsKeyError checks if an error is a KeyError.
func IsKeyError(err error) bool {
	var ke *KeyError
	return errors.As(err, &ke)
}
