package ai

import (
	"sync"
)

// Registry maps provider names to their adapters. Adapters register once at
// startup; lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds or replaces the adapter for its provider.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Provider()] = c
}

// ForProvider returns the adapter for the given provider, if registered.
func (r *Registry) ForProvider(provider string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[provider]
	return c, ok
}

// Providers returns the registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// UsageAll returns per-provider usage snapshots for every adapter.
func (r *Registry) UsageAll() map[string]ProviderUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ProviderUsage, len(r.clients))
	for name, c := range r.clients {
		out[name] = c.Usage()
	}
	return out
}
