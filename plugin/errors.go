package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by errors returned when no registered plugin has
	// the requested type name.
	ErrNotFound = errors.New("plugin not found")
	// ErrOperationMissing is matched by errors returned when a plugin lacks
	// the requested operation.
	ErrOperationMissing = errors.New("plugin operation missing")
	// ErrDuplicate is matched by errors returned when two conforming types
	// share a type name.
	ErrDuplicate = errors.New("duplicate plugin type")
	// ErrAlreadyLoaded is returned by Load on a registry that was loaded before.
	ErrAlreadyLoaded = errors.New("registry already loaded")
)

// NotFoundError reports that no registered plugin has the requested name.
type NotFoundError struct {
	Plugin string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin %q not found", e.Plugin)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// OperationMissingError reports that a plugin was found but does not expose
// the requested operation.
type OperationMissingError struct {
	Plugin    string
	Operation string
}

func (e *OperationMissingError) Error() string {
	return fmt.Sprintf("plugin %q does not have an operation %q", e.Plugin, e.Operation)
}

func (e *OperationMissingError) Is(target error) bool {
	return target == ErrOperationMissing
}

// DuplicateError reports a conforming type whose name is already taken.
type DuplicateError struct {
	Plugin   string
	Module   string
	Existing string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("plugin %q in module %q is already registered by module %q", e.Plugin, e.Module, e.Existing)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// LoadError wraps any failure raised while listing, verifying, loading or
// instantiating plugins. Module is empty when listing the directory failed.
type LoadError struct {
	Module string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("failed to load plugins: %v", e.Err)
	}
	return fmt.Sprintf("failed to load plugin module %q: %v", e.Module, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
