// Package pipeline holds named orchestration strategies and the tool-calling
// loop.
package pipeline

import (
	"sort"
	"sync"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/model"
	"github.com/tjfontaine/polyglot-orchestrator/internal/tool"
)

// Registry maps pipeline ids to pipelines.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]ports.Pipeline
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]ports.Pipeline)}
}

// Default returns the process-wide registry with the tool loop registered
// against the default model and tool registries.
var Default = sync.OnceValue(func() *Registry {
	r := NewRegistry()
	_ = r.Register(NewToolLoop(model.Default(), tool.Default()))
	return r
})

// Register adds p under its id, replacing any earlier pipeline with that id.
func (r *Registry) Register(p ports.Pipeline) error {
	if p == nil || p.ID() == "" {
		return domain.ErrConfiguration("pipeline id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.ID()] = p
	return nil
}

// Resolve returns the pipeline registered under id.
func (r *Registry) Resolve(id string) (ports.Pipeline, error) {
	r.mu.RLock()
	p, ok := r.pipelines[id]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrConfiguration("unknown pipeline %q (known pipelines: %v)", id, r.List())
	}
	return p, nil
}

// List returns the registered ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.pipelines))
	for id := range r.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear removes all pipelines (for testing only).
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines = make(map[string]ports.Pipeline)
}
