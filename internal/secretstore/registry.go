package secretstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Store from its raw configuration block.
type Factory func(ctx context.Context, name string, config map[string]interface{}) (Store, error)

// Registry maps store type names to factories. The gateway registers the
// built-in backends at startup; tests register fakes.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a store type. Registering a duplicate type is an error.
func (r *Registry) Register(storeType string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[storeType]; exists {
		return fmt.Errorf("store type %q already registered", storeType)
	}
	r.factories[storeType] = factory
	return nil
}

// Create builds a store instance of the given type.
func (r *Registry) Create(ctx context.Context, storeType, name string, config map[string]interface{}) (Store, error) {
	r.mu.RLock()
	factory, exists := r.factories[storeType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown store type: %s", storeType)
	}
	return factory(ctx, name, config)
}

// SupportedTypes returns the registered type names, sorted.
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks whether a store type is registered.
func (r *Registry) IsSupported(storeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[storeType]
	return ok
}
