// Package plugin discovers, instantiates and dispatches to plugins found in a
// directory of modules. Module formats (WASM, Go shared objects, ...) are
// handled by loaders registered per file suffix.
package plugin

import "context"

const (
	// ContractName is the symbol name of the plugin contract itself.
	// A module symbol exported under this name is never instantiated.
	ContractName = "Plugin"

	// ExecuteOperation is the operation name under which every registered
	// plugin exposes its Execute method.
	ExecuteOperation = "execute"
)

// Plugin defines the interface that all plugins must implement.
//
// Execute is the only required capability. A plugin that needs more entry
// points implements Operator as well.
type Plugin interface {
	// Execute runs the plugin.
	// Errors are returned to the caller of the registry unmodified.
	Execute(ctx context.Context) error
}

// Operation is a named entry point of a plugin. Arguments are forwarded
// verbatim from Registry.ExecuteNamed.
type Operation func(ctx context.Context, args ...any) error

// Operator is implemented by plugins that expose named operations besides
// Execute. Operations is read once, when the plugin is registered.
type Operator interface {
	Operations() map[string]Operation
}
