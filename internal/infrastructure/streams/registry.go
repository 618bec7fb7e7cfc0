package streams

import (
	"fmt"
	"sort"
	"sync"
)

// GlobalRegistry is the registry backend packages register into from init().
var GlobalRegistry = NewRegistry()

// Registry holds registered stream factories. The application uses it to
// build the stream named in configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a new Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for a backend name, replacing any previous one.
func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factory.Name()] = factory
}

// Create builds a Stream for the given backend and config.
func (r *Registry) Create(name string, cfg Config) (Stream, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown stream backend: %s", name)
	}
	return factory.Create(cfg)
}

// ListRegistered returns all registered backend names, sorted.
func (r *Registry) ListRegistered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
