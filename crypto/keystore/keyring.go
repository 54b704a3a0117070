package keystore

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const (
	// KeyringBackend stores keys in the OS keyring.
	KeyringBackend = "keyring"
	// FileBackend stores keys in an encrypted directory through the keyring
	// file backend. The password is read from PLUGINHOST_KEYRING_PASSWORD.
	FileBackend = "file"

	passwordEnv = "PLUGINHOST_KEYRING_PASSWORD"
)

func init() {
	RegisterKeystore(KeyringBackend, func(opts Options) (TrustStore, error) {
		return NewKeyringTrustStore(keyring.Config{
			ServiceName: opts.Service,
		})
	})
	RegisterKeystore(FileBackend, func(opts Options) (TrustStore, error) {
		if opts.Dir == "" {
			return nil, errors.New("file keystore requires a directory")
		}
		return NewKeyringTrustStore(keyring.Config{
			ServiceName:      opts.Service,
			AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
			FileDir:          opts.Dir,
			FilePasswordFunc: envPassword,
		})
	})
}

func envPassword(string) (string, error) {
	password := os.Getenv(passwordEnv)
	if password == "" {
		return "", fmt.Errorf("%s is not set", passwordEnv)
	}
	return password, nil
}

// KeyringTrustStore implements TrustStore on top of 99designs/keyring.
// Keys are stored as PEM-encoded PKIX public keys.
type KeyringTrustStore struct {
	ring keyring.Keyring
}

// NewKeyringTrustStore opens a keyring with the given configuration.
func NewKeyringTrustStore(cfg keyring.Config) (*KeyringTrustStore, error) {
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	return &KeyringTrustStore{ring: ring}, nil
}

// PublicKey retrieves an Ed25519 public key from the keyring
func (k *KeyringTrustStore) PublicKey(keyID string) (ed25519.PublicKey, error) {
	item, err := k.ring.Get(keyID)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
		}
		return nil, fmt.Errorf("failed to get key from keyring: %w", err)
	}

	return ParsePublicKeyPEM(item.Data)
}

// SetPublicKey stores an Ed25519 public key in the keyring
func (k *KeyringTrustStore) SetPublicKey(keyID string, key ed25519.PublicKey) error {
	data, err := EncodePublicKeyPEM(key)
	if err != nil {
		return err
	}

	err = k.ring.Set(keyring.Item{
		Key:         keyID,
		Data:        data,
		Label:       "pluginhost module signing key " + keyID,
		Description: "Ed25519 public key trusted to sign plugin modules",
	})
	if err != nil {
		return fmt.Errorf("failed to store key in keyring: %w", err)
	}

	return nil
}

// ListKeys returns all key IDs stored in the keyring
func (k *KeyringTrustStore) ListKeys() ([]string, error) {
	keys, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys from keyring: %w", err)
	}
	return keys, nil
}

// EncodePublicKeyPEM encodes an Ed25519 public key as a PKIX PEM block.
func EncodePublicKeyPEM(key ed25519.PublicKey) ([]byte, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(key))
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKeyPEM decodes a PKIX PEM block holding an Ed25519 public key.
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not Ed25519")
	}
	return pub, nil
}
