// Package registry maps configured provider types to model factories.
//
// Each provider package registers itself from init():
//
//	func init() {
//	    registry.RegisterFactory(registry.ProviderFactory{
//	        Type:   "openai",
//	        Create: NewFactory,
//	    })
//	}
//
// and the binary blank-imports the provider packages it ships.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/model"
)

// ProviderFactory knows how to build model factories for one provider type.
type ProviderFactory struct {
	// Type is the identifier used in configuration ("openai", "echo").
	Type string

	Description string

	// Create returns the factory bound to the configured model prefix.
	Create func(cfg config.ProviderConfig) (ports.ModelFactory, error)

	// ValidateConfig is optional.
	ValidateConfig func(cfg config.ProviderConfig) error
}

var (
	factoryMu  sync.RWMutex
	factoryMap = make(map[string]ProviderFactory)
)

// RegisterFactory registers a provider type. It panics on an empty or
// duplicate type.
func RegisterFactory(f ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Type == "" {
		panic("provider factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("provider factory %q must have a Create function", f.Type))
	}
	if _, exists := factoryMap[f.Type]; exists {
		panic(fmt.Sprintf("provider factory %q already registered", f.Type))
	}
	factoryMap[f.Type] = f
}

// GetFactory returns the factory for a provider type, if registered.
func GetFactory(providerType string) (ProviderFactory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[providerType]
	return f, ok
}

// ListProviderTypes returns all registered provider types sorted.
func ListProviderTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(factoryMap))
	for t := range factoryMap {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CreateFromFactory validates cfg and builds its model factory.
func CreateFromFactory(cfg config.ProviderConfig) (ports.ModelFactory, error) {
	f, ok := GetFactory(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (registered types: %v)", cfg.Type, ListProviderTypes())
	}

	if f.ValidateConfig != nil {
		if err := f.ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration for provider type %s: %w", cfg.Type, err)
		}
	}
	return f.Create(cfg)
}

// RegisterModels registers every configured provider under its prefix.
func RegisterModels(r *model.Registry, providers []config.ProviderConfig) error {
	for _, cfg := range providers {
		factory, err := CreateFromFactory(cfg)
		if err != nil {
			return err
		}
		if err := r.Register(cfg.Prefix, factory); err != nil {
			return fmt.Errorf("provider %s: %w", cfg.Type, err)
		}
	}
	return nil
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factoryMap = make(map[string]ProviderFactory)
}
