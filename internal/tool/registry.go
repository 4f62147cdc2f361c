// Package tool holds the tool registry, schema helpers and built-in tools.
package tool

import (
	"sort"
	"sync"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// Registry maps tool names to tools. The last registration for a name wins.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ports.Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ports.Tool)}
}

// Default returns the process-wide registry with the built-in tools.
var Default = sync.OnceValue(func() *Registry {
	r := NewRegistry()
	_ = r.Register(AddNumber{})
	return r
})

// Register adds t, replacing any tool of the same name.
func (r *Registry) Register(t ports.Tool) error {
	if t == nil || t.Name() == "" {
		return domain.ErrConfiguration("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (ports.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns a snapshot of every registered tool sorted by name.
func (r *Registry) List() []ports.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ports.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Clear removes all tools (for testing only).
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]ports.Tool)
}
