// Package crypto signs and verifies plugin modules.
//
// A module signature is an Ed25519 signature over a digest that binds the
// module ID to the SHA-256 of the module bytes:
//
//	SHA-256("pluginhost-module-v1" || 0x00 || module_id || 0x00 || SHA-256(module))
//
// Signatures live next to the module in "<entry>.sig" files, either as the raw
// 64 bytes or base64 encoded text.
package crypto

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/joncooperworks/pluginhost/crypto/keystore"
)

const signatureDomain = "pluginhost-module-v1"

var (
	// ErrSignatureInvalid is returned when a signature does not match the module.
	ErrSignatureInvalid = errors.New("module signature verification failed")
	// ErrNoTrustedKeys is returned when a verifier has nothing to check against.
	ErrNoTrustedKeys = errors.New("no trusted module signing keys")
)

func moduleDigest(moduleID string, data []byte) []byte {
	sum := sha256.Sum256(data)
	h := sha256.New()
	h.Write([]byte(signatureDomain))
	h.Write([]byte{0})
	h.Write([]byte(moduleID))
	h.Write([]byte{0})
	h.Write(sum[:])
	return h.Sum(nil)
}

// SignModule signs module data under the given module ID.
func SignModule(priv ed25519.PrivateKey, moduleID string, data []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: %d", len(priv))
	}
	if moduleID == "" {
		return nil, errors.New("module ID cannot be empty")
	}
	return ed25519.Sign(priv, moduleDigest(moduleID, data)), nil
}

// EncodeSignature renders a signature in the text form written to .sig files.
func EncodeSignature(sig []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sig)))
	base64.StdEncoding.Encode(out, sig)
	return append(out, '\n')
}

// DecodeSignature accepts either a raw Ed25519 signature or its base64 text.
func DecodeSignature(data []byte) ([]byte, error) {
	if len(data) == ed25519.SignatureSize {
		return data, nil
	}
	trimmed := bytes.TrimSpace(data)
	sig := make([]byte, base64.StdEncoding.DecodedLen(len(trimmed)))
	n, err := base64.StdEncoding.Decode(sig, trimmed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	if n != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature length: %d (expected %d bytes for Ed25519)", n, ed25519.SignatureSize)
	}
	return sig[:n], nil
}

// VerifyModule checks a signature produced by SignModule.
func VerifyModule(pub ed25519.PublicKey, moduleID string, data, signature []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: %d", len(pub))
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, moduleDigest(moduleID, data), sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// ModuleVerifier accepts a module when any key in its trust store verifies
// the module signature. It satisfies plugin.Verifier.
type ModuleVerifier struct {
	store  keystore.TrustStore
	logger *log.Logger
}

// VerifierOption configures a ModuleVerifier.
type VerifierOption func(*ModuleVerifier)

// WithLogger sets the logger used for verification events.
func WithLogger(logger *log.Logger) VerifierOption {
	return func(v *ModuleVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewModuleVerifier creates a verifier backed by the given trust store.
func NewModuleVerifier(store keystore.TrustStore, opts ...VerifierOption) *ModuleVerifier {
	v := &ModuleVerifier{
		store:  store,
		logger: log.WithPrefix("verify"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify implements plugin.Verifier.
func (v *ModuleVerifier) Verify(ctx context.Context, moduleID string, data, signature []byte) error {
	if v.store == nil {
		return errors.New("trust store cannot be nil")
	}
	if len(signature) == 0 {
		return fmt.Errorf("module %q is not signed", moduleID)
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return err
	}

	keyIDs, err := v.store.ListKeys()
	if err != nil {
		return fmt.Errorf("failed to list trusted keys: %w", err)
	}
	if len(keyIDs) == 0 {
		return ErrNoTrustedKeys
	}

	for _, keyID := range keyIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		pub, err := v.store.PublicKey(keyID)
		if err != nil {
			v.logger.Warn("skipping unreadable key", "key", keyID, "err", err)
			continue
		}
		if VerifyModule(pub, moduleID, data, sig) == nil {
			v.logger.Debug("module signature verified", "module", moduleID, "key", keyID)
			return nil
		}
	}
	return fmt.Errorf("%w: module %q", ErrSignatureInvalid, moduleID)
}
