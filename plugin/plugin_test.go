package plugin

import (
	"context"
	"fmt"
	"sync"
)

// callLog records plugin invocations across instances in call order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// MockPlugin is a mock implementation of the Plugin interface for testing.
type MockPlugin struct {
	name        string
	log         *callLog
	executeFunc func(ctx context.Context) error
	ops         map[string]Operation
	closed      bool
}

// NewMockPlugin creates a mock plugin that records its executions in log.
func NewMockPlugin(name string, log *callLog) *MockPlugin {
	return &MockPlugin{name: name, log: log}
}

// NewMockPluginWithExecute creates a mock plugin with a custom execute function.
func NewMockPluginWithExecute(name string, log *callLog, executeFunc func(ctx context.Context) error) *MockPlugin {
	return &MockPlugin{name: name, log: log, executeFunc: executeFunc}
}

// Execute records the call and runs the custom execute function, if any.
func (m *MockPlugin) Execute(ctx context.Context) error {
	if m.log != nil {
		m.log.add(m.name + ".execute")
	}
	if m.executeFunc != nil {
		return m.executeFunc(ctx)
	}
	return nil
}

// Operations returns the configured named operations.
func (m *MockPlugin) Operations() map[string]Operation {
	return m.ops
}

func (m *MockPlugin) Close() error {
	m.closed = true
	return nil
}

// samplePlugin has a greet operation that records "hello <name>".
type samplePlugin struct {
	log *callLog
}

func (s *samplePlugin) Execute(ctx context.Context) error {
	s.log.add("Sample.execute")
	return nil
}

func (s *samplePlugin) Operations() map[string]Operation {
	return map[string]Operation{
		"greet": func(ctx context.Context, args ...any) error {
			if len(args) != 1 {
				return fmt.Errorf("greet takes 1 argument, got %d", len(args))
			}
			s.log.add(fmt.Sprintf("hello %v", args[0]))
			return nil
		},
	}
}

// mockExport returns a conforming symbol producing a MockPlugin.
func mockExport(name string, log *callLog) Symbol {
	return Export(name, func() *MockPlugin { return NewMockPlugin(name, log) })
}
