package speech

import (
	"errors"
	"fmt"
	"sync"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no
// constructor has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("speech: provider not registered")

// Constructor builds an [Adapter] for one job from its credentials.
type Constructor func(Config) (Adapter, error)

// Registry maps provider names (e.g. "google", "openai") to adapter
// constructors. Adding a provider is registering a constructor; no caller
// changes. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under name. Subsequent calls with the same
// name overwrite the previous registration.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// Names returns the registered provider names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	return names
}

// Create instantiates an adapter for the named provider.
func (r *Registry) Create(name string, cfg Config) (Adapter, error) {
	r.mu.RLock()
	c, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}
	return c(cfg)
}
