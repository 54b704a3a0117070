package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// SignatureSuffix is appended to a module entry name to find its detached
// signature when a Verifier is configured.
const SignatureSuffix = ".sig"

// State is the lifecycle state of a Registry.
type State int

const (
	// StateUnloaded is the state of a new registry.
	StateUnloaded State = iota
	// StateLoaded is reached after a successful Load.
	StateLoaded
	// StateFailed is reached after a Load that returned an error. Plugins
	// registered before the failure stay registered.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Verifier checks the detached signature of a module before it is loaded.
type Verifier interface {
	Verify(ctx context.Context, moduleID string, data, signature []byte) error
}

type entry struct {
	name   string
	module string
	plugin Plugin
	ops    map[string]Operation
}

func newEntry(name, module string, p Plugin) *entry {
	ops := make(map[string]Operation)
	if o, ok := p.(Operator); ok {
		for opName, op := range o.Operations() {
			if op != nil {
				ops[opName] = op
			}
		}
	}
	ops[ExecuteOperation] = func(ctx context.Context, args ...any) error {
		if len(args) != 0 {
			return fmt.Errorf("%s takes no arguments, got %d", ExecuteOperation, len(args))
		}
		return p.Execute(ctx)
	}
	return &entry{name: name, module: module, plugin: p, ops: ops}
}

// Registry holds the plugins discovered in one directory, in registration
// order, and dispatches calls to them.
//
// Registration order is: modules passed with WithModules, then directory
// entries sorted by name, then symbol declaration order within a module.
type Registry struct {
	dir      string
	fsys     fs.FS
	modules  []Module
	verifier Verifier
	logger   *log.Logger

	// loaders is only touched by options and by the goroutine running Load.
	loaders map[string]Loader
	// owned are the loaders created from the process-wide table; Close
	// releases them.
	owned []Loader

	// mu guards the fields below. It is never held while loader or plugin
	// code runs, so factories may call back into the registry.
	mu      sync.RWMutex
	state   State
	loading bool
	entries []*entry
	byName  map[string]*entry
}

// New creates an empty registry bound to dir. The directory is not checked
// until Load. An empty dir without WithFS skips directory discovery, which
// is useful together with WithModules.
func New(dir string, opts ...Option) *Registry {
	r := &Registry{
		dir:     dir,
		loaders: make(map[string]Loader),
		byName:  make(map[string]*entry),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "plugins",
			Level:  log.WarnLevel,
		}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the directory the registry is bound to.
func (r *Registry) Dir() string {
	return r.dir
}

// State returns the lifecycle state of the registry.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Load discovers, loads and instantiates every conforming plugin type.
//
// Load is fail-fast: the first error aborts it and is returned as a
// *LoadError. Plugins registered before the failure are kept and no later
// module is loaded. Load may only be called once.
//
// Plugin factories run without registry locks held and may query the
// registry, which then holds the plugins registered so far.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateUnloaded || r.loading {
		r.mu.Unlock()
		return ErrAlreadyLoaded
	}
	r.loading = true
	r.mu.Unlock()

	err := r.load(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loading = false
	if err != nil {
		r.state = StateFailed
		return err
	}
	r.state = StateLoaded
	r.logger.Debug("plugins loaded", "dir", r.dir, "count", len(r.entries))
	return nil
}

func (r *Registry) load(ctx context.Context) error {
	for _, m := range r.modules {
		if err := r.register(m); err != nil {
			return err
		}
	}
	return r.loadDir(ctx)
}

func (r *Registry) loadDir(ctx context.Context) error {
	fsys := r.fsys
	if fsys == nil {
		if r.dir == "" {
			return nil
		}
		fsys = os.DirFS(r.dir)
	}

	candidates, err := Discover(fsys, r.suffixes())
	if err != nil {
		return &LoadError{Err: err}
	}

	for _, c := range candidates {
		src := Source{
			ID:    c.ID,
			Entry: c.Entry,
			Path:  filepath.Join(r.dir, c.Entry),
			FS:    fsys,
		}
		if err := r.loadSource(ctx, c.Suffix, src); err != nil {
			return &LoadError{Module: c.ID, Err: err}
		}
	}
	return nil
}

func (r *Registry) loadSource(ctx context.Context, suffix string, src Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := fs.ReadFile(src.FS, src.Entry)
	if err != nil {
		return fmt.Errorf("failed to read module: %w", err)
	}
	src.Data = data

	if r.verifier != nil {
		if err := r.verify(ctx, src); err != nil {
			return err
		}
	}

	loader, err := r.loaderFor(suffix)
	if err != nil {
		return err
	}

	r.logger.Debug("loading plugin module", "module", src.ID, "entry", src.Entry)
	m, err := loader.Load(ctx, src)
	if err != nil {
		return err
	}
	return r.registerSymbols(src.ID, m.Symbols())
}

// verify checks src.Data, the same bytes the loader receives.
func (r *Registry) verify(ctx context.Context, src Source) error {
	sig, err := fs.ReadFile(src.FS, src.Entry+SignatureSuffix)
	if err != nil {
		return fmt.Errorf("failed to read module signature: %w", err)
	}
	if err := r.verifier.Verify(ctx, src.ID, src.Data, sig); err != nil {
		return fmt.Errorf("module signature rejected: %w", err)
	}
	return nil
}

// suffixes returns the per-registry loader suffixes merged with the
// process-wide loader table.
func (r *Registry) suffixes() []string {
	seen := make(map[string]struct{})
	var out []string
	for suffix := range r.loaders {
		seen[suffix] = struct{}{}
		out = append(out, suffix)
	}
	for _, suffix := range ListRegisteredSuffixes() {
		if _, ok := seen[suffix]; !ok {
			out = append(out, suffix)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) loaderFor(suffix string) (Loader, error) {
	if loader, ok := r.loaders[suffix]; ok {
		return loader, nil
	}
	factory, err := GetLoaderFactory(suffix)
	if err != nil {
		return nil, err
	}
	loader, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s loader: %w", suffix, err)
	}
	if l, ok := loader.(interface{ SetLogger(*log.Logger) }); ok {
		l.SetLogger(r.logger.With("loader", suffix))
	}
	r.loaders[suffix] = loader
	r.mu.Lock()
	r.owned = append(r.owned, loader)
	r.mu.Unlock()
	return loader, nil
}

func (r *Registry) register(m Module) error {
	if err := r.registerSymbols(m.ID(), m.Symbols()); err != nil {
		return &LoadError{Module: m.ID(), Err: err}
	}
	return nil
}

func (r *Registry) registerSymbols(module string, symbols []Symbol) error {
	for _, sym := range symbols {
		factory, ok := factoryOf(sym)
		if !ok {
			continue
		}
		if existing, dup := r.entry(sym.Name); dup {
			return &DuplicateError{Plugin: sym.Name, Module: module, Existing: existing.module}
		}

		p, err := factory()
		if err != nil {
			return fmt.Errorf("failed to instantiate %s: %w", sym.Name, err)
		}
		if p == nil {
			return fmt.Errorf("failed to instantiate %s: %w", sym.Name, errNilInstance)
		}

		e := newEntry(sym.Name, module, p)
		r.mu.Lock()
		r.entries = append(r.entries, e)
		r.byName[sym.Name] = e
		r.mu.Unlock()
		r.logger.Debug("registered plugin", "plugin", sym.Name, "module", module)
	}
	return nil
}

func (r *Registry) entry(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ExecuteAll calls Execute on every registered plugin in registration order.
// The first error is returned unmodified and the remaining plugins are not
// executed.
func (r *Registry) ExecuteAll(ctx context.Context) error {
	for _, e := range r.snapshot() {
		if err := e.plugin.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteNamed invokes operation on the plugin registered under pluginName,
// forwarding args. It returns a *NotFoundError when no plugin has that name
// and an *OperationMissingError when the plugin lacks the operation. Errors
// from the operation itself are returned unmodified.
func (r *Registry) ExecuteNamed(ctx context.Context, pluginName, operation string, args ...any) error {
	r.mu.RLock()
	e, ok := r.byName[pluginName]
	r.mu.RUnlock()
	if !ok {
		return &NotFoundError{Plugin: pluginName}
	}

	op, ok := e.ops[operation]
	if !ok {
		return &OperationMissingError{Plugin: pluginName, Operation: operation}
	}
	return op(ctx, args...)
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns the registered plugin type names in registration order.
func (r *Registry) Names() []string {
	entries := r.snapshot()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Plugins returns the registered plugin instances in registration order.
func (r *Registry) Plugins() []Plugin {
	entries := r.snapshot()
	plugins := make([]Plugin, len(entries))
	for i, e := range entries {
		plugins[i] = e.plugin
	}
	return plugins
}

// Lookup returns the plugin registered under name.
func (r *Registry) Lookup(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// Operations returns the sorted operation names of the plugin registered
// under name, or nil if there is none.
func (r *Registry) Operations(name string) []string {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	ops := make([]string, 0, len(e.ops))
	for op := range e.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Close releases plugins that hold resources, i.e. those implementing
// Close(context.Context) error or io.Closer, then the loaders the registry
// created from the loader table. Everything is closed even if some fail;
// the errors are joined.
func (r *Registry) Close(ctx context.Context) error {
	var errs error
	for _, e := range r.snapshot() {
		errs = errors.Join(errs, closeResource(ctx, e.plugin))
	}

	r.mu.Lock()
	owned := r.owned
	r.owned = nil
	r.mu.Unlock()
	for _, l := range owned {
		errs = errors.Join(errs, closeResource(ctx, l))
	}
	return errs
}

func closeResource(ctx context.Context, v any) error {
	switch c := v.(type) {
	case interface{ Close(context.Context) error }:
		return c.Close(ctx)
	case io.Closer:
		return c.Close()
	}
	return nil
}
