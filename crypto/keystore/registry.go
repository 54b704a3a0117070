package keystore

import (
	"fmt"
	"sort"
	"sync"
)

// Options carries backend settings to a KeystoreFactory.
type Options struct {
	// Service is the keyring service name keys are stored under.
	Service string
	// Dir is the directory used by file-based backends.
	Dir string
}

// KeystoreFactory is a function that creates a new TrustStore instance.
//
// Factory functions are registered with RegisterKeystore and are called when
// a trust store for that backend is needed.
type KeystoreFactory func(opts Options) (TrustStore, error)

var (
	// registry stores keystore factories by backend name
	registry = make(map[string]KeystoreFactory)
	// registryMu protects concurrent access to the registry
	registryMu sync.RWMutex
)

// RegisterKeystore registers a keystore factory for a backend name.
//
// This should be called from init() functions in backend implementations.
//
// Example:
//
//	func init() {
//	    RegisterKeystore("memory", func(Options) (TrustStore, error) {
//	        return NewMemoryTrustStore(), nil
//	    })
//	}
func RegisterKeystore(backend string, factory KeystoreFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[backend] = factory
}

// GetKeystoreFactory retrieves a keystore factory for the given backend.
//
// Returns an error if no factory is registered for the backend.
func GetKeystoreFactory(backend string) (KeystoreFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[backend]
	if !ok {
		return nil, fmt.Errorf("no keystore factory registered for backend: %s", backend)
	}
	return factory, nil
}

// ListRegisteredBackends returns all registered backend names, sorted.
func ListRegisteredBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	backends := make([]string, 0, len(registry))
	for backend := range registry {
		backends = append(backends, backend)
	}
	sort.Strings(backends)
	return backends
}
