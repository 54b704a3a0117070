package plugin

import "errors"

// Factory is a zero-argument plugin constructor.
type Factory func() (Plugin, error)

// Symbol is one exported symbol of a loaded module.
type Symbol struct {
	Name  string
	Value any
}

// Module is a loaded unit of plugin code. Symbols are returned in
// declaration order; that order becomes registration order.
type Module interface {
	ID() string
	Symbols() []Symbol
}

type staticModule struct {
	id      string
	symbols []Symbol
}

// NewModule returns a module backed by an explicit symbol list. It is how
// compiled-in code and Go shared objects register their plugin types.
func NewModule(id string, symbols ...Symbol) Module {
	return &staticModule{id: id, symbols: symbols}
}

func (m *staticModule) ID() string {
	return m.id
}

func (m *staticModule) Symbols() []Symbol {
	out := make([]Symbol, len(m.symbols))
	copy(out, m.symbols)
	return out
}

// Export wraps a typed constructor as a conforming symbol.
//
// Example:
//
//	var Symbols = []plugin.Symbol{
//	    plugin.Export("Sample", func() *Sample { return &Sample{} }),
//	}
func Export[T Plugin](name string, newFn func() T) Symbol {
	return Symbol{
		Name: name,
		Value: Factory(func() (Plugin, error) {
			return newFn(), nil
		}),
	}
}

var errNilInstance = errors.New("factory returned a nil plugin")

// factoryOf reports whether sym denotes a conforming plugin type and returns
// its constructor. The contract itself is never conforming.
func factoryOf(sym Symbol) (Factory, bool) {
	if sym.Name == "" || sym.Name == ContractName {
		return nil, false
	}
	switch v := sym.Value.(type) {
	case Factory:
		return v, v != nil
	case func() (Plugin, error):
		return v, v != nil
	case func() Plugin:
		if v == nil {
			return nil, false
		}
		return func() (Plugin, error) { return v(), nil }, true
	}
	return nil, false
}
