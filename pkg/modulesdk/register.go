package modulesdk

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a producer with no arguments, matching the loader's
// no-argument construction rule.
type Factory func() Producer

var registry = struct {
	mu        sync.Mutex
	factories map[string]Factory
}{
	factories: make(map[string]Factory),
}

// Register adds a compile-time module factory under the given module id.
// Duplicate ids fail so two modules can never shadow each other.
func Register(moduleID string, factory Factory) error {
	if moduleID == "" {
		return fmt.Errorf("module id is required")
	}
	if factory == nil {
		return fmt.Errorf("factory for %q is nil", moduleID)
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.factories[moduleID]; ok {
		return fmt.Errorf("module %q already registered", moduleID)
	}
	registry.factories[moduleID] = factory
	return nil
}

// MustRegister is Register for init() use; it panics on error.
func MustRegister(moduleID string, factory Factory) {
	if err := Register(moduleID, factory); err != nil {
		panic(err)
	}
}

// Registered returns a copy of the factory table.
func Registered() map[string]Factory {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make(map[string]Factory, len(registry.factories))
	for id, f := range registry.factories {
		out[id] = f
	}
	return out
}

// RegisteredIDs returns the sorted ids of all registered factories.
func RegisteredIDs() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	ids := make([]string, 0, len(registry.factories))
	for id := range registry.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
