// Package runtime assembles the orchestrator from configuration and manages
// the HTTP server lifecycle. A Runtime can be embedded in a larger program or
// run standalone by cmd/orchestrator.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-orchestrator/internal/calllog"
	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/hooks"
	"github.com/tjfontaine/polyglot-orchestrator/internal/model"
	"github.com/tjfontaine/polyglot-orchestrator/internal/pipeline"
	"github.com/tjfontaine/polyglot-orchestrator/internal/policy"
	"github.com/tjfontaine/polyglot-orchestrator/internal/provider/registry"
	"github.com/tjfontaine/polyglot-orchestrator/internal/resilience"
	"github.com/tjfontaine/polyglot-orchestrator/internal/server"
	"github.com/tjfontaine/polyglot-orchestrator/internal/service"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage"
	"github.com/tjfontaine/polyglot-orchestrator/internal/tokens"
	"github.com/tjfontaine/polyglot-orchestrator/internal/tool"

	// Built-in provider types register themselves with the provider registry.
	_ "github.com/tjfontaine/polyglot-orchestrator/internal/provider/echo"
	_ "github.com/tjfontaine/polyglot-orchestrator/internal/provider/openai"
)

type modelBinding struct {
	prefix  string
	factory ports.ModelFactory
}

// Runtime owns every orchestrator component built from one configuration.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	// Injected via options
	sink        ports.CallLogSink
	tools       *tool.Registry
	extraModels []modelBinding
	retryOpts   []resilience.Option

	calls     *calllog.Logger
	models    *model.Registry
	pipelines *pipeline.Registry
	policy    *policy.Resolver
	service   *service.Service
	handler   *server.Server

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New builds the runtime. Without WithConfigFile or WithConfig it fails.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	rt := &Runtime{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if rt.cfg == nil {
		return nil, fmt.Errorf("config required (use WithConfigFile or WithConfig)")
	}

	if err := rt.init(ctx); err != nil {
		if rt.sink != nil {
			rt.sink.Close()
		}
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) init(ctx context.Context) error {
	cfg := rt.cfg

	if rt.sink == nil {
		sink, err := storage.NewSink(ctx, cfg.Logging.Sink, rt.logger)
		if err != nil {
			return fmt.Errorf("create call-log sink: %w", err)
		}
		rt.sink = sink
	}
	rt.calls = calllog.New(rt.sink,
		calllog.WithWriteTimeout(cfg.Logging.WriteTimeoutDuration()),
		calllog.WithLogger(rt.logger),
	)

	prices, err := tokens.LoadPriceTable(cfg.Pricing.File)
	if err != nil {
		return fmt.Errorf("load pricing: %w", err)
	}

	retryOpts := []resilience.Option{
		resilience.WithMaxRetries(cfg.Retry.MaxRetries),
		resilience.WithMaxDelay(cfg.Retry.MaxDelayDuration()),
		resilience.WithPrices(prices),
		resilience.WithCallLog(rt.calls),
		resilience.WithLogger(rt.logger),
	}
	exec, err := hooks.NewExecutorFromConfig(cfg.Hooks, rt.logger)
	if err != nil {
		return fmt.Errorf("create hooks: %w", err)
	}
	if exec != nil {
		retryOpts = append(retryOpts, resilience.WithHooks(exec))
	}
	retryOpts = append(retryOpts, rt.retryOpts...)

	rt.models = model.NewRegistry()
	if err := registry.RegisterModels(rt.models, cfg.Providers); err != nil {
		return fmt.Errorf("register providers: %w", err)
	}
	for _, b := range rt.extraModels {
		if err := rt.models.Register(b.prefix, b.factory); err != nil {
			return err
		}
	}
	rt.models.Use(resilience.Decorator(retryOpts...))

	if rt.tools == nil {
		rt.tools = tool.Default()
	}

	rt.pipelines = pipeline.NewRegistry()
	loop := pipeline.NewToolLoop(rt.models, rt.tools,
		pipeline.WithMaxIterations(cfg.Pipeline.MaxIterations),
		pipeline.WithLogger(rt.logger),
	)
	if err := rt.pipelines.Register(loop); err != nil {
		return err
	}

	rt.policy = policy.FromConfig(cfg.Policy)
	if len(rt.policy.Allowed()) == 0 {
		rt.logger.Warn("no allowed models configured; every call will fail until policy.allowed_models is set")
	}

	svcOpts := []service.Option{
		service.WithPolicy(rt.policy),
		service.WithPipelines(rt.pipelines),
		service.WithCallLog(rt.calls),
		service.WithLogger(rt.logger),
	}
	if cfg.Streaming.MaxConcurrent > 0 {
		svcOpts = append(svcOpts, service.WithMaxConcurrentStreams(cfg.Streaming.MaxConcurrent))
	}
	if cfg.Streaming.Buffer > 0 {
		svcOpts = append(svcOpts, service.WithStreamBuffer(cfg.Streaming.Buffer))
	}
	rt.service, err = service.New(svcOpts...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	rt.handler = server.New(server.Options{
		Service:       rt.service,
		Policy:        rt.policy,
		ModelPrefixes: rt.models.Prefixes,
		Pipelines:     rt.pipelines.List,
		Logger:        rt.logger,
	})

	rt.logger.Info("orchestrator initialized",
		slog.Int("providers", len(cfg.Providers)),
		slog.Any("model_prefixes", rt.models.Prefixes()),
		slog.Any("allowed_models", rt.policy.Allowed()),
		slog.Any("pipelines", rt.pipelines.List()),
		slog.String("sink", cfg.Logging.Sink.Type),
	)
	return nil
}

// Service returns the orchestration facade.
func (rt *Runtime) Service() *service.Service { return rt.service }

// Models returns the model registry.
func (rt *Runtime) Models() *model.Registry { return rt.models }

// Policy returns the model allow-list resolver.
func (rt *Runtime) Policy() *policy.Resolver { return rt.policy }

// Pipelines returns the pipeline registry.
func (rt *Runtime) Pipelines() *pipeline.Registry { return rt.pipelines }

// Handler returns the HTTP handler.
func (rt *Runtime) Handler() http.Handler { return rt.handler }

// Start listens on the configured port and serves in the background.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.server != nil {
		return fmt.Errorf("runtime already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", rt.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	rt.listener = ln
	rt.server = &http.Server{
		Handler:           rt.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		rt.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := rt.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr returns the listening address, or "" before Start.
func (rt *Runtime) Addr() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.listener == nil {
		return ""
	}
	return rt.listener.Addr().String()
}

// Shutdown stops the HTTP server and closes the call-log sink.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.logger.Info("shutting down orchestrator")

	var errs []error
	if rt.server != nil {
		if err := rt.server.Shutdown(ctx); err != nil {
			rt.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		rt.server = nil
	}
	if rt.sink != nil {
		if err := rt.sink.Close(); err != nil {
			rt.logger.Error("failed to close call-log sink", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		rt.sink = nil
	}

	rt.logger.Info("orchestrator shutdown complete")
	return errors.Join(errs...)
}
