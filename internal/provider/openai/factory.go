package openai

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/provider/registry"
)

// ProviderType is the provider type identifier used in configuration.
const ProviderType = "openai"

func init() {
	registry.RegisterFactory(registry.ProviderFactory{
		Type:           ProviderType,
		Description:    "OpenAI chat completions API and compatible servers",
		Create:         NewFactory,
		ValidateConfig: ValidateConfig,
	})
}

// NewFactory returns a model factory for the configured prefix. A prefix
// ending in "/" is a namespace and is stripped from the upstream model id, so
// "openai/gpt-4o-mini" is sent as "gpt-4o-mini".
func NewFactory(cfg config.ProviderConfig) (ports.ModelFactory, error) {
	return func(name string) (ports.ChatModel, error) {
		id := name
		if strings.HasSuffix(cfg.Prefix, "/") {
			id = strings.TrimPrefix(name, cfg.Prefix)
		}
		if id == "" {
			return nil, fmt.Errorf("model name %q has no model id after prefix %q", name, cfg.Prefix)
		}
		return New(name, cfg.APIKey, WithBaseURL(cfg.BaseURL), WithModelID(id)), nil
	}, nil
}

// ValidateConfig requires a key only for the hosted API; local compatible
// servers often run without one.
func ValidateConfig(cfg config.ProviderConfig) error {
	if cfg.APIKey == "" && (cfg.BaseURL == "" || strings.HasPrefix(cfg.BaseURL, DefaultBaseURL)) {
		return fmt.Errorf("api_key is required for %s", DefaultBaseURL)
	}
	return nil
}
