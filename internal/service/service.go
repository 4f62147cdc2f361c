// Package service is the caller-facing facade: it applies model policy,
// dispatches to pipelines and records one call log per request.
package service

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/tjfontaine/polyglot-orchestrator/internal/calllog"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/pipeline"
	"github.com/tjfontaine/polyglot-orchestrator/internal/policy"
)

const tracerName = "github.com/tjfontaine/polyglot-orchestrator/internal/service"

// PipelineResolver finds pipelines by id.
type PipelineResolver interface {
	Resolve(id string) (ports.Pipeline, error)
}

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithPolicy sets the model allow-list resolver.
func WithPolicy(r *policy.Resolver) Option {
	return func(s *Service) error {
		if r == nil {
			return fmt.Errorf("policy resolver cannot be nil")
		}
		s.policy = r
		return nil
	}
}

// WithPipelines sets the pipeline registry.
func WithPipelines(p PipelineResolver) Option {
	return func(s *Service) error {
		if p == nil {
			return fmt.Errorf("pipeline resolver cannot be nil")
		}
		s.pipelines = p
		return nil
	}
}

// WithCallLog sets where request records are written.
func WithCallLog(l *calllog.Logger) Option {
	return func(s *Service) error {
		s.calls = l
		return nil
	}
}

// WithSemaphore bounds concurrent AStream calls with a shared semaphore.
func WithSemaphore(sem *semaphore.Weighted) Option {
	return func(s *Service) error {
		if sem == nil {
			return fmt.Errorf("semaphore cannot be nil")
		}
		s.sem = sem
		return nil
	}
}

// WithMaxConcurrentStreams gives the service its own semaphore of size n.
func WithMaxConcurrentStreams(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return fmt.Errorf("max concurrent streams must be positive, got %d", n)
		}
		s.sem = semaphore.NewWeighted(int64(n))
		return nil
	}
}

// WithStreamBuffer sets the capacity of each AStream hand-off channel.
func WithStreamBuffer(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return fmt.Errorf("stream buffer must be positive, got %d", n)
		}
		s.buffer = n
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) error {
		s.tracer = tp.Tracer(tracerName)
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// Service runs requests against pipelines.
type Service struct {
	policy    *policy.Resolver
	pipelines PipelineResolver
	calls     *calllog.Logger
	sem       *semaphore.Weighted
	buffer    int
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates a Service. Without options it uses the default pipeline
// registry, the process-wide stream semaphore and an empty allow-list, so
// every call fails until a policy is supplied.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		policy: policy.NewResolver(nil, ""),
		buffer: DefaultStreamBuffer,
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if s.pipelines == nil {
		s.pipelines = pipeline.Default()
	}
	if s.sem == nil {
		s.sem = DefaultSemaphore()
	}
	if s.calls == nil {
		s.calls = calllog.New(nil)
	}
	return s, nil
}

// call is one request on its way through the facade.
type call struct {
	pipelineID string
	req        *domain.ChatRequest
	pipeline   ports.Pipeline
	start      time.Time
	span       trace.Span
}

// prepare runs the admission steps shared by Run and Stream: attach a run
// context, resolve the model under policy and resolve the pipeline.
func (s *Service) prepare(ctx context.Context, pipelineID string, in *domain.ChatRequest, stream bool, spanName string) (context.Context, *call, error) {
	c := &call{pipelineID: pipelineID, start: time.Now()}
	if in == nil {
		in = &domain.ChatRequest{}
	}
	c.req = in.Clone()
	c.req.Stream = c.req.Stream || stream

	ctx, c.span = s.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("orchestrator.pipeline_id", pipelineID),
		attribute.Bool("orchestrator.stream", c.req.Stream),
	))

	if c.req.Context == nil {
		rc := domain.NewRunContext()
		if sc := c.span.SpanContext(); sc.HasTraceID() {
			rc.TraceID = sc.TraceID().String()
		}
		c.req.Context = rc
	}
	c.span.SetAttributes(attribute.String("orchestrator.run_id", c.req.RunID()))

	modelName, err := s.policy.Resolve(c.req.Model)
	if err != nil {
		return ctx, c, err
	}
	c.req.Model = modelName
	c.span.SetAttributes(attribute.String("orchestrator.model", modelName))

	p, err := s.pipelines.Resolve(pipelineID)
	if err != nil {
		return ctx, c, err
	}
	if c.req.Stream && !p.Capabilities().Has(ports.CapabilityStreaming) {
		return ctx, c, domain.ErrPolicyDenied("pipeline %q does not support streaming", pipelineID)
	}
	c.pipeline = p
	return ctx, c, nil
}

func (s *Service) entry(c *call) calllog.Entry {
	return calllog.Entry{
		Kind:       domain.CallKindRequest,
		PipelineID: c.pipelineID,
		Request:    c.req,
		Stream:     c.req.Stream,
		Duration:   time.Since(c.start),
	}
}

// fail records err on the span and in the call log and returns the error
// the caller sees.
func (s *Service) fail(ctx context.Context, c *call, err error) error {
	err = wrapError(err)
	c.span.RecordError(err)
	c.span.SetStatus(codes.Error, err.Error())
	s.calls.LogError(ctx, s.entry(c), err)
	s.logger.Debug("orchestrated call failed",
		slog.String("pipeline_id", c.pipelineID),
		slog.String("run_id", c.req.RunID()),
		slog.String("error_type", domain.ErrorType(err)),
		slog.String("error", err.Error()))
	return err
}

// Run executes req on the pipeline and returns its response.
func (s *Service) Run(ctx context.Context, pipelineID string, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, c, err := s.prepare(ctx, pipelineID, req, false, "orchestrator.run")
	defer c.span.End()
	if err != nil {
		return nil, s.fail(ctx, c, err)
	}

	resp, err := c.pipeline.Run(ctx, c.req)
	if err != nil {
		return nil, s.fail(ctx, c, err)
	}

	s.calls.LogCall(ctx, s.entry(c), resp)
	return resp, nil
}

// Stream executes req on the pipeline and yields its events in order. A
// yielded error ends the sequence.
func (s *Service) Stream(ctx context.Context, pipelineID string, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		ctx, c, err := s.prepare(ctx, pipelineID, req, true, "orchestrator.stream")
		defer c.span.End()
		if err != nil {
			yield(domain.StreamEvent{}, s.fail(ctx, c, err))
			return
		}

		var events []domain.StreamEvent
		for ev, err := range c.pipeline.Stream(ctx, c.req) {
			if err != nil {
				yield(domain.StreamEvent{}, s.fail(ctx, c, err))
				return
			}
			events = append(events, ev)
			if ev.Type == domain.EventError {
				c.span.SetStatus(codes.Error, fmt.Sprint(ev.Data["message"]))
			}
			if !yield(ev, nil) {
				break
			}
		}
		c.span.SetAttributes(attribute.Int("orchestrator.events", len(events)))
		s.calls.LogStream(ctx, s.entry(c), events)
	}
}

// wrapError passes typed orchestration errors through and wraps anything
// else as a provider error.
func wrapError(err error) error {
	if err == nil || domain.IsKnown(err) {
		return err
	}
	return domain.ErrProvider(err)
}
