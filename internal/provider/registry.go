package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the configured providers keyed by ID.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.providers[id] = p
	return nil
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not found (configured: %s)", id, strings.Join(r.IDs(), ", "))
	}
	return p, nil
}

// GetForModel returns the provider serving ref. A provider that declares
// its models must list ref's model; one that declares none accepts any.
func (r *Registry) GetForModel(ref ModelRef) (Provider, error) {
	p, err := r.Get(ref.Provider())
	if err != nil {
		return nil, err
	}
	models := p.Models()
	if len(models) == 0 {
		return p, nil
	}
	for _, m := range models {
		if m.ID == ref.Model() {
			return p, nil
		}
	}
	return nil, fmt.Errorf("model %q is not declared by provider %q", ref.Model(), p.ID())
}

// IDs returns the registered provider IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
