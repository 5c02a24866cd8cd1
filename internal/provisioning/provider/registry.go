package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/breaker"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

// Provider pairs a carrier adapter with its breaker, active flag and rate
// budget. Providers are created at startup and never removed at runtime;
// a misbehaving carrier is deactivated, not deleted.
type Provider struct {
	Adapter Adapter
	Breaker *breaker.Breaker

	active atomic.Bool
	slots  chan struct{}
}

// Name returns the adapter's provider identifier.
func (p *Provider) Name() string { return p.Adapter.Name() }

// Active reports whether the provider participates in searches and reserves.
func (p *Provider) Active() bool { return p.active.Load() }

// Acquire claims one slot of the provider's rate budget, waiting until a slot
// frees up or the context expires. Release must be called for each successful
// Acquire.
func (p *Provider) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("provider %s: rate budget wait: %w", p.Name(), ctx.Err())
	}
}

// Release returns a rate budget slot.
func (p *Provider) Release() {
	<-p.slots
}

// Registry is the explicitly constructed provider set handed to the facade at
// startup. No package-level state: tests build as many independent registries
// as they like.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*Provider
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Provider)}
}

// Register adds a provider with the given rate budget (max concurrent
// in-flight calls; values below 1 get a budget of 1). Registration order is
// preserved and used as the merge order for search results.
func (r *Registry) Register(adapter Adapter, brk *breaker.Breaker, rateBudget int) *Provider {
	if rateBudget < 1 {
		rateBudget = 1
	}
	p := &Provider{
		Adapter: adapter,
		Breaker: brk,
		slots:   make(chan struct{}, rateBudget),
	}
	p.active.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[adapter.Name()]; !exists {
		r.order = append(r.order, adapter.Name())
	}
	r.byName[adapter.Name()] = p
	return p
}

// Get looks a provider up by name.
func (r *Registry) Get(name string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// All returns every registered provider in registration order, including
// inactive ones.
func (r *Registry) All() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// ActiveProviders returns the active subset in registration order.
func (r *Registry) ActiveProviders() []*Provider {
	all := r.All()
	out := make([]*Provider, 0, len(all))
	for _, p := range all {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out
}

// SetActive toggles a provider in or out of rotation.
func (r *Registry) SetActive(name string, active bool) error {
	p, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("provider %s: %w", name, domain.ErrNotFound)
	}
	p.active.Store(active)
	return nil
}
