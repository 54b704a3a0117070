package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
)

const (
	// NativeSuffix is the plugin-source suffix handled by NativeLoader.
	NativeSuffix = ".so"

	// SymbolsExport is the symbol a Go plugin module must export. It is
	// either a []Symbol variable or a func() []Symbol.
	SymbolsExport = "Symbols"
)

func init() {
	RegisterLoader(NativeSuffix, func() (Loader, error) {
		return &NativeLoader{}, nil
	})
}

// NativeLoader loads Go plugin modules built with -buildmode=plugin.
type NativeLoader struct{}

// Load opens a shared object and reads its exported symbol list. Opening a
// module runs its init functions.
//
// When src.Data is set the shared object is opened from a private copy of
// those bytes, so the code that runs is exactly the code the registry read
// and verified. Otherwise src.Path is opened.
func (nl *NativeLoader) Load(ctx context.Context, src Source) (Module, error) {
	path := src.Path
	if src.Data != nil {
		copyPath, cleanup, err := writePrivateCopy(src)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		path = copyPath
	}

	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin: %w", err)
	}

	sym, err := p.Lookup(SymbolsExport)
	if err != nil {
		return nil, fmt.Errorf("plugin does not export %q: %w", SymbolsExport, err)
	}

	symbols, err := symbolsOf(sym)
	if err != nil {
		return nil, err
	}
	return NewModule(src.ID, symbols...), nil
}

// writePrivateCopy writes src.Data to a file in a fresh 0700 directory. The
// copy can be removed once the shared object is mapped.
func writePrivateCopy(src Source) (string, func(), error) {
	dir, err := os.MkdirTemp("", "pluginhost-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create plugin staging directory: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, filepath.Base(src.Entry))
	if err := os.WriteFile(path, src.Data, 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage plugin: %w", err)
	}
	return path, cleanup, nil
}

func symbolsOf(sym goplugin.Symbol) ([]Symbol, error) {
	switch v := sym.(type) {
	case *[]Symbol:
		return *v, nil
	case func() []Symbol:
		return v(), nil
	default:
		return nil, fmt.Errorf("plugin export %q has unsupported type %T", SymbolsExport, sym)
	}
}
