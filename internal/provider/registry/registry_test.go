package registry

import (
	"errors"
	"testing"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/model"
	"github.com/tjfontaine/polyglot-orchestrator/internal/testutil"
)

func stubFactory(cfg config.ProviderConfig) (ports.ModelFactory, error) {
	return func(name string) (ports.ChatModel, error) {
		return &testutil.ScriptedModel{ModelName: name}, nil
	}, nil
}

func TestRegisterModels(t *testing.T) {
	ClearFactories()
	t.Cleanup(ClearFactories)

	RegisterFactory(ProviderFactory{Type: "stub", Create: stubFactory})
	RegisterFactory(ProviderFactory{
		Type:   "strict",
		Create: stubFactory,
		ValidateConfig: func(cfg config.ProviderConfig) error {
			if cfg.APIKey == "" {
				return errors.New("api_key is required")
			}
			return nil
		},
	})

	tests := []struct {
		name      string
		providers []config.ProviderConfig
		wantErr   bool
	}{
		{
			name:      "registered type",
			providers: []config.ProviderConfig{{Prefix: "gpt-", Type: "stub"}},
		},
		{
			name:      "unknown type",
			providers: []config.ProviderConfig{{Prefix: "gpt-", Type: "nope"}},
			wantErr:   true,
		},
		{
			name:      "validation failure",
			providers: []config.ProviderConfig{{Prefix: "gpt-", Type: "strict"}},
			wantErr:   true,
		},
		{
			name:      "empty prefix",
			providers: []config.ProviderConfig{{Type: "stub"}},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := model.NewRegistry()
			err := RegisterModels(r, tt.providers)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RegisterModels() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if _, err := r.Resolve("gpt-4o"); err != nil {
					t.Errorf("Resolve() error = %v", err)
				}
			}
		})
	}
}

func TestRegisterFactory_PanicsOnDuplicate(t *testing.T) {
	ClearFactories()
	t.Cleanup(ClearFactories)

	RegisterFactory(ProviderFactory{Type: "stub", Create: stubFactory})
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterFactory(ProviderFactory{Type: "stub", Create: stubFactory})
}

func TestListProviderTypes(t *testing.T) {
	ClearFactories()
	t.Cleanup(ClearFactories)

	RegisterFactory(ProviderFactory{Type: "b", Create: stubFactory})
	RegisterFactory(ProviderFactory{Type: "a", Create: stubFactory})

	got := ListProviderTypes()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ListProviderTypes() = %v", got)
	}
}
