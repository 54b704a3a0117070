package keystore

import (
	"crypto/ed25519"
	"errors"
)

// ErrKeyNotFound is returned when a key ID is not present in a trust store.
var ErrKeyNotFound = errors.New("key not found")

// TrustStore holds the public keys trusted to sign plugin modules.
type TrustStore interface {
	// PublicKey retrieves an Ed25519 public key by key ID
	PublicKey(keyID string) (ed25519.PublicKey, error)
	// SetPublicKey stores an Ed25519 public key under the given key ID
	SetPublicKey(keyID string, key ed25519.PublicKey) error
	// ListKeys returns all key IDs stored in the trust store
	ListKeys() ([]string, error)
}
