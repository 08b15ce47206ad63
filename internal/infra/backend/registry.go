package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry maps provider names to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under its name.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[b.Name()]; ok {
		return fmt.Errorf("backend %s already registered", b.Name())
	}
	r.backends[b.Name()] = b
	return nil
}

// Get returns the backend for a provider.
func (r *Registry) Get(provider string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[provider]
	return b, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute returns a callback that sends req to whichever provider/model the
// failover executor picks. The callback returns a *Response.
func (r *Registry) Execute(req Request) func(ctx context.Context, provider, modelID string) (any, error) {
	return func(ctx context.Context, provider, modelID string) (any, error) {
		b, ok := r.Get(provider)
		if !ok {
			return nil, fmt.Errorf("no backend registered for provider %s", provider)
		}
		call := req
		call.Model = modelID
		return b.Complete(ctx, call)
	}
}

// Close closes every backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
