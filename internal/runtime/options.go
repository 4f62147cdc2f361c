package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/resilience"
	"github.com/tjfontaine/polyglot-orchestrator/internal/tool"
)

// Option is a functional option for configuring a Runtime.
type Option func(*Runtime) error

// WithConfigFile loads configuration from path and the environment.
func WithConfigFile(path string) Option {
	return func(rt *Runtime) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		rt.cfg = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(rt *Runtime) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		rt.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) error {
		rt.logger = logger
		return nil
	}
}

// WithSink overrides the configured call-log sink. The runtime closes it on
// shutdown.
func WithSink(sink ports.CallLogSink) Option {
	return func(rt *Runtime) error {
		rt.sink = sink
		return nil
	}
}

// WithToolRegistry replaces the process-wide tool registry.
func WithToolRegistry(tools *tool.Registry) Option {
	return func(rt *Runtime) error {
		rt.tools = tools
		return nil
	}
}

// WithModelFactory registers a model factory in addition to the configured
// providers.
func WithModelFactory(prefix string, factory ports.ModelFactory) Option {
	return func(rt *Runtime) error {
		if prefix == "" || factory == nil {
			return fmt.Errorf("model factory needs a prefix and a factory")
		}
		rt.extraModels = append(rt.extraModels, modelBinding{prefix: prefix, factory: factory})
		return nil
	}
}

// WithRetryOptions appends options to the retry wrapper installed around
// every model.
func WithRetryOptions(opts ...resilience.Option) Option {
	return func(rt *Runtime) error {
		rt.retryOpts = append(rt.retryOpts, opts...)
		return nil
	}
}
