package keystore

import "fmt"

// DefaultService is the keyring service name used when none is configured.
const DefaultService = "pluginhost"

// NewTrustStore creates a trust store for the named backend.
func NewTrustStore(backend string, opts Options) (TrustStore, error) {
	factory, err := GetKeystoreFactory(backend)
	if err != nil {
		return nil, fmt.Errorf("unsupported keystore backend: %s", backend)
	}
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	return factory(opts)
}
