// Package model maps model-name prefixes to model factories.
package model

import (
	"sort"
	"strings"
	"sync"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// Decorator wraps every model the registry resolves.
type Decorator func(ports.ChatModel) ports.ChatModel

// Registry resolves model names by their longest registered prefix.
// Factories are invoked lazily on every Resolve.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]ports.ModelFactory
	decorators []Decorator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ports.ModelFactory)}
}

// Default returns the process-wide registry.
var Default = sync.OnceValue(NewRegistry)

// Register binds prefix to factory. A later registration of the same prefix
// replaces the earlier one.
func (r *Registry) Register(prefix string, factory ports.ModelFactory) error {
	if prefix == "" {
		return domain.ErrConfiguration("model prefix cannot be empty")
	}
	if factory == nil {
		return domain.ErrConfiguration("model prefix %q has no factory", prefix)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[prefix] = factory
	return nil
}

// Use appends a decorator applied to every resolved model, innermost first.
func (r *Registry) Use(d Decorator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decorators = append(r.decorators, d)
}

// Resolve builds the model for name using the longest matching prefix,
// regardless of registration order.
func (r *Registry) Resolve(name string) (ports.ChatModel, error) {
	r.mu.RLock()
	var (
		best    string
		factory ports.ModelFactory
	)
	for prefix, f := range r.factories {
		if strings.HasPrefix(name, prefix) && len(prefix) > len(best) {
			best, factory = prefix, f
		}
	}
	decorators := r.decorators
	r.mu.RUnlock()

	if factory == nil {
		return nil, domain.ErrConfiguration("no model registered for %q (registered prefixes: %v)", name, r.Prefixes())
	}

	m, err := factory(name)
	if err != nil {
		return nil, domain.ErrConfiguration("failed to create model %q", name).WithCause(err)
	}
	for _, d := range decorators {
		m = d(m)
	}
	return m, nil
}

// Prefixes returns the registered prefixes sorted.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clear removes all registrations and decorators (for testing only).
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]ports.ModelFactory)
	r.decorators = nil
}
