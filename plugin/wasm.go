package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	extism "github.com/extism/go-sdk"
	"github.com/tetratelabs/wazero"
)

// WASMSuffix is the plugin-source suffix handled by WASMLoader.
const WASMSuffix = ".wasm"

func init() {
	RegisterLoader(WASMSuffix, func() (Loader, error) {
		return NewWASMLoader()
	})
}

// WASMLoader loads WASM plugin modules using the Extism SDK.
//
// A WASM module defines exactly one plugin type, named after its module
// identifier, when it exports an execute function. Its other exported
// functions become the plugin's operations.
//
// Export inspection and Extism instances share one wazero compilation
// cache, so every module is compiled once per loader.
type WASMLoader struct {
	logger *log.Logger
	cache  wazero.CompilationCache
}

// NewWASMLoader creates a new WASM loader.
func NewWASMLoader() (*WASMLoader, error) {
	return &WASMLoader{
		logger: log.WithPrefix("wasm"),
		cache:  wazero.NewCompilationCache(),
	}, nil
}

// SetLogger routes loader and plugin log lines, including those emitted by
// guest code, to logger. A registry calls it on the loaders it creates.
func (wl *WASMLoader) SetLogger(logger *log.Logger) {
	if logger != nil {
		wl.logger = logger
	}
}

// Close releases the compilation cache. Plugins created by the loader must
// be closed first.
func (wl *WASMLoader) Close(ctx context.Context) error {
	return wl.cache.Close(ctx)
}

func (wl *WASMLoader) runtimeConfig() wazero.RuntimeConfig {
	return wazero.NewRuntimeConfig().WithCompilationCache(wl.cache)
}

// Load compiles a WASM module and lists its exports. It uses src.Data and
// falls back to reading src.Entry from src.FS. Compilation failures are
// returned; nothing is instantiated here.
func (wl *WASMLoader) Load(ctx context.Context, src Source) (Module, error) {
	data := src.Data
	if data == nil {
		var err error
		data, err = fs.ReadFile(src.FS, src.Entry)
		if err != nil {
			return nil, fmt.Errorf("failed to read WASM module: %w", err)
		}
	}

	exports, err := wl.exportedFunctions(ctx, data)
	if err != nil {
		return nil, err
	}

	symbols := make([]Symbol, 0, len(exports)+1)
	hasExecute := false
	var ops []string
	for _, name := range exports {
		if name == ExecuteOperation {
			hasExecute = true
			continue
		}
		if strings.HasPrefix(name, "_") {
			continue
		}
		ops = append(ops, name)
	}

	if hasExecute {
		symbols = append(symbols, Symbol{
			Name: src.ID,
			Value: Factory(func() (Plugin, error) {
				return wl.newPlugin(ctx, src.ID, data, ops)
			}),
		})
	}
	for _, name := range exports {
		symbols = append(symbols, Symbol{Name: name, Value: name})
	}

	return NewModule(src.ID, symbols...), nil
}

// exportedFunctions compiles data with wazero and returns its exported
// function names, sorted.
func (wl *WASMLoader) exportedFunctions(ctx context.Context, data []byte) ([]string, error) {
	runtime := wazero.NewRuntimeWithConfig(ctx, wl.runtimeConfig())
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}
	// compiled stays open: closing it would evict the module from the
	// shared cache before Extism instantiates it.

	names := make([]string, 0, len(compiled.ExportedFunctions()))
	for name := range compiled.ExportedFunctions() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (wl *WASMLoader) newPlugin(ctx context.Context, name string, data []byte, ops []string) (*WASMPlugin, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: data, Name: name},
		},
	}

	config := extism.PluginConfig{
		EnableWasi:    true,
		RuntimeConfig: wl.runtimeConfig(),
	}

	p, err := extism.NewPlugin(ctx, manifest, config, []extism.HostFunction{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Extism plugin: %w", err)
	}

	logger := wl.logger.With("plugin", name)
	p.SetLogger(func(level extism.LogLevel, message string) {
		switch level {
		case extism.LogLevelError:
			logger.Error(message)
		case extism.LogLevelWarn:
			logger.Warn(message)
		case extism.LogLevelInfo:
			logger.Info(message)
		default:
			logger.Debug(message)
		}
	})

	return &WASMPlugin{
		name:   name,
		plugin: p,
		ops:    ops,
		logger: logger,
	}, nil
}

// WASMPlugin implements Plugin and Operator for a WASM module.
type WASMPlugin struct {
	name   string
	plugin *extism.Plugin
	ops    []string
	logger *log.Logger

	// mu serializes calls; an Extism plugin instance is not safe for
	// concurrent use.
	mu         sync.Mutex
	lastOutput []byte
}

// Name returns the module identifier the plugin was loaded from.
func (wp *WASMPlugin) Name() string {
	return wp.name
}

// Execute calls the exported execute function.
func (wp *WASMPlugin) Execute(ctx context.Context) error {
	_, err := wp.call(ctx, ExecuteOperation, nil)
	return err
}

// Operations exposes every other exported function. Arguments are encoded
// as the call input: none is empty input, a single string or []byte is
// passed as is, anything else is JSON-encoded (several arguments as a JSON
// array).
func (wp *WASMPlugin) Operations() map[string]Operation {
	ops := make(map[string]Operation, len(wp.ops))
	for _, name := range wp.ops {
		fn := name
		ops[fn] = func(ctx context.Context, args ...any) error {
			input, err := encodeArgs(args)
			if err != nil {
				return fmt.Errorf("failed to encode arguments for %s: %w", fn, err)
			}
			_, err = wp.call(ctx, fn, input)
			return err
		}
	}
	return ops
}

// LastOutput returns the output of the most recent successful call.
func (wp *WASMPlugin) LastOutput() []byte {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.lastOutput
}

// Close shuts down the plugin instance and releases resources.
func (wp *WASMPlugin) Close(ctx context.Context) error {
	if wp.plugin != nil {
		return wp.plugin.CloseWithContext(ctx)
	}
	return nil
}

func (wp *WASMPlugin) call(ctx context.Context, fn string, input []byte) ([]byte, error) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	exitCode, output, err := wp.plugin.CallWithContext(ctx, fn, input)
	if err != nil {
		return nil, fmt.Errorf("failed to call WASM function %s: %w", fn, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%s returned non-zero exit code: %d", fn, exitCode)
	}

	wp.lastOutput = output
	wp.logger.Debug("WASM call finished", "function", fn, "output", string(output))
	return output, nil
}

func encodeArgs(args []any) ([]byte, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		switch v := args[0].(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
		return json.Marshal(args[0])
	default:
		return json.Marshal(args)
	}
}
