package plugin

import (
	"io/fs"

	"github.com/charmbracelet/log"
)

// Option configures a Registry.
type Option func(*Registry)

// WithFS resolves the plugin directory through fsys instead of the host
// filesystem. Source.Path is still derived from the registry directory.
func WithFS(fsys fs.FS) Option {
	return func(r *Registry) {
		r.fsys = fsys
	}
}

// WithLoader uses loader for entries ending in suffix, taking precedence
// over the process-wide loader table.
func WithLoader(suffix string, loader Loader) Option {
	return func(r *Registry) {
		r.loaders[suffix] = loader
	}
}

// WithModules registers already-resolved modules ahead of the directory
// contents.
func WithModules(modules ...Module) Option {
	return func(r *Registry) {
		r.modules = append(r.modules, modules...)
	}
}

// WithVerifier requires every discovered module to carry a detached
// signature accepted by v.
func WithVerifier(v Verifier) Option {
	return func(r *Registry) {
		r.verifier = v
	}
}

// WithLogger sets the logger used for discovery and load events.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}
