package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// KeyPair is the Ed25519 signing key used for access tokens. It is built
// once at startup and never mutated afterwards.
type KeyPair struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewKeyPair wraps an existing private key.
func NewKeyPair(priv ed25519.PrivateKey) (*KeyPair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("auth: invalid ed25519 private key size")
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("auth: unexpected public key type")
	}
	return &KeyPair{private: priv, public: pub}, nil
}

// ParseKeyPairPEM loads a PKCS#8 PEM encoded Ed25519 private key.
func ParseKeyPairPEM(privatePEM []byte) (*KeyPair, error) {
	key, err := jwt.ParseEdPrivateKeyFromPEM(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("auth: private key is not ed25519")
	}
	return NewKeyPair(priv)
}

// GenerateKeyPair creates a fresh random key pair. Tests and local
// development use it when no key is configured.
func GenerateKeyPair() (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("auth: generate key: %w", err)
	}
	return NewKeyPair(priv)
}

// PublicKey returns the verification key.
func (k *KeyPair) PublicKey() ed25519.PublicKey { return k.public }

// Sign serializes claims into a compact EdDSA token.
func (k *KeyPair) Sign(claims *AccessClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(k.private)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
