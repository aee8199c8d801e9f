package provider

import (
	"fmt"
	"sync"
)

// Factory constructs a provider instance.
type Factory func() Interface

var (
	builtinMu sync.RWMutex
	builtins  = make(map[string]Factory)
)

// Register makes a provider constructor available to registries under the
// given name. It is called from provider package init functions, so a
// binary opts in to a provider by importing its package.
func Register(name string, f Factory) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	builtins[name] = f
}

// Registry manages the lifecycle of providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Interface
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Interface),
	}
}

// LoadProvider initializes and registers a provider.
// Only in-process providers are supported; an out-of-process plugin
// protocol would hook in here.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	builtinMu.RLock()
	factory, ok := builtins[name]
	builtinMu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = factory()
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
