package plugin

import (
	"context"
	"fmt"
	"sync"
)

// MockLoader is a test loader that serves in-memory modules by identifier.
type MockLoader struct {
	mu      sync.Mutex
	modules map[string][]Symbol
	errs    map[string]error
	loaded  []string
	data    map[string][]byte
}

func NewMockLoader() *MockLoader {
	return &MockLoader{
		modules: make(map[string][]Symbol),
		errs:    make(map[string]error),
		data:    make(map[string][]byte),
	}
}

func (ml *MockLoader) Load(ctx context.Context, src Source) (Module, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.loaded = append(ml.loaded, src.ID)
	ml.data[src.ID] = src.Data

	if err, ok := ml.errs[src.ID]; ok {
		return nil, err
	}
	symbols, ok := ml.modules[src.ID]
	if !ok {
		return nil, fmt.Errorf("no mock module %q", src.ID)
	}
	return NewModule(src.ID, symbols...), nil
}

// SetModule defines the symbols served for a module identifier.
func (ml *MockLoader) SetModule(id string, symbols ...Symbol) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.modules[id] = symbols
}

// SetError makes loading a module identifier fail with err.
func (ml *MockLoader) SetError(id string, err error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.errs[id] = err
}

// Loaded returns the module identifiers passed to Load, in order.
func (ml *MockLoader) Loaded() []string {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	out := make([]string, len(ml.loaded))
	copy(out, ml.loaded)
	return out
}

// Data returns the module bytes the loader received for id.
func (ml *MockLoader) Data(id string) []byte {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.data[id]
}

type testError struct {
	message string
}

func (e *testError) Error() string {
	return e.message
}
