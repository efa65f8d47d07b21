package provider

import (
	"sync"
)

// Registry holds the configured adapters keyed by backend name. Only adapters
// whose configuration is complete get registered; resolution failures for
// unregistered names are the caller's concern (typically gateway fallback).
type Registry struct {
	mu       sync.RWMutex
	adapters map[Name]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Name]Adapter)}
}

// Register adds or replaces the adapter under its own name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name Name) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered backend names in no particular order.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Name, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
