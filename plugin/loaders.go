package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"
)

// Source identifies one candidate module in a plugin directory.
type Source struct {
	// ID is the module identifier: the entry name without its suffix.
	ID string
	// Entry is the entry name within the plugin directory.
	Entry string
	// Path is the entry joined to the registry directory, for loaders that
	// need a real filesystem path.
	Path string
	// FS is the plugin directory.
	FS fs.FS
	// Data holds the module bytes read by the registry. When a Verifier is
	// configured these are the verified bytes, so loaders must load Data
	// rather than read FS or Path again.
	Data []byte
}

// Loader turns a candidate module into a loaded Module.
type Loader interface {
	Load(ctx context.Context, src Source) (Module, error)
}

// LoaderFactory is a function that creates a new Loader instance.
//
// Factory functions are registered with RegisterLoader and are called when
// a registry loads a module with the matching suffix.
type LoaderFactory func() (Loader, error)

var (
	// loaderRegistry stores loader factories by plugin-source suffix
	loaderRegistry = make(map[string]LoaderFactory)
	// loaderRegistryMu protects concurrent access to the registry
	loaderRegistryMu sync.RWMutex
)

// RegisterLoader registers a loader factory for a plugin-source suffix.
//
// This should be called from init() functions in loader implementations.
// The suffix includes the leading dot, e.g. ".wasm". Registering the same
// suffix twice replaces the earlier factory.
//
// Example:
//
//	func init() {
//	    RegisterLoader(".lua", func() (Loader, error) {
//	        return NewLuaLoader()
//	    })
//	}
func RegisterLoader(suffix string, factory LoaderFactory) {
	loaderRegistryMu.Lock()
	defer loaderRegistryMu.Unlock()
	loaderRegistry[suffix] = factory
}

// GetLoaderFactory retrieves the loader factory for a plugin-source suffix.
//
// Returns an error if no factory is registered for the suffix.
func GetLoaderFactory(suffix string) (LoaderFactory, error) {
	loaderRegistryMu.RLock()
	defer loaderRegistryMu.RUnlock()
	factory, ok := loaderRegistry[suffix]
	if !ok {
		return nil, fmt.Errorf("no loader factory registered for suffix: %s", suffix)
	}
	return factory, nil
}

// ListRegisteredSuffixes returns all registered plugin-source suffixes, sorted.
func ListRegisteredSuffixes() []string {
	loaderRegistryMu.RLock()
	defer loaderRegistryMu.RUnlock()
	suffixes := make([]string, 0, len(loaderRegistry))
	for suffix := range loaderRegistry {
		suffixes = append(suffixes, suffix)
	}
	sort.Strings(suffixes)
	return suffixes
}
