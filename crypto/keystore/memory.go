package keystore

import (
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend keeps keys in process memory. It is meant for tests and for
// hosts that provision trusted keys programmatically.
const MemoryBackend = "memory"

func init() {
	RegisterKeystore(MemoryBackend, func(Options) (TrustStore, error) {
		return NewMemoryTrustStore(), nil
	})
}

// MemoryTrustStore is an in-memory implementation of TrustStore.
type MemoryTrustStore struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewMemoryTrustStore creates an empty in-memory trust store.
func NewMemoryTrustStore() *MemoryTrustStore {
	return &MemoryTrustStore{keys: make(map[string]ed25519.PublicKey)}
}

func (m *MemoryTrustStore) PublicKey(keyID string) (ed25519.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return key, nil
}

func (m *MemoryTrustStore) SetPublicKey(keyID string, key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: %d", len(key))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[keyID] = append(ed25519.PublicKey(nil), key...)
	return nil
}

// ListKeys returns the stored key IDs, sorted.
func (m *MemoryTrustStore) ListKeys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.keys))
	for id := range m.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
