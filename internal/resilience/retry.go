// Package resilience wraps backend models with policy hooks, bounded retries
// and fallback usage accounting.
package resilience

import (
	"context"
	"iter"
	"log/slog"
	"math"
	"time"

	"github.com/tjfontaine/polyglot-orchestrator/internal/calllog"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/model"
	"github.com/tjfontaine/polyglot-orchestrator/internal/tokens"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 2
	// DefaultMaxDelay caps the backoff delay.
	DefaultMaxDelay = 60 * time.Second
)

// Option configures a Model.
type Option func(*Model)

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(m *Model) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

// WithMaxDelay caps the default exponential backoff.
func WithMaxDelay(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.maxDelay = d
		}
	}
}

// WithBackoff replaces the backoff schedule. attempt starts at 0.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(m *Model) {
		m.backoff = fn
	}
}

// WithHooks sets the pre and post policy hooks.
func WithHooks(h ports.HookRunner) Option {
	return func(m *Model) {
		m.hooks = h
	}
}

// WithTokenCounter sets the tokenizer used when a backend omits usage.
func WithTokenCounter(r *tokens.Registry) Option {
	return func(m *Model) {
		if r != nil {
			m.counter = r
		}
	}
}

// WithPrices sets the price table used when a backend omits cost.
func WithPrices(t tokens.PriceTable) Option {
	return func(m *Model) {
		m.prices = t
	}
}

// WithCallLog sets where provider_call records are written.
func WithCallLog(l *calllog.Logger) Option {
	return func(m *Model) {
		m.calls = l
	}
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Model is a ports.ChatModel that guards another one.
type Model struct {
	inner      ports.ChatModel
	maxRetries int
	maxDelay   time.Duration
	backoff    func(attempt int) time.Duration
	hooks      ports.HookRunner
	counter    *tokens.Registry
	prices     tokens.PriceTable
	calls      *calllog.Logger
	logger     *slog.Logger
}

var _ ports.ChatModel = (*Model)(nil)

// Wrap guards inner with the given options.
func Wrap(inner ports.ChatModel, opts ...Option) *Model {
	m := &Model{
		inner:      inner,
		maxRetries: DefaultMaxRetries,
		maxDelay:   DefaultMaxDelay,
		counter:    tokens.NewDefaultRegistry(),
		prices:     tokens.DefaultPriceTable(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.backoff == nil {
		m.backoff = ExponentialBackoff(m.maxDelay)
	}
	return m
}

// Decorator returns a model registry decorator that wraps every resolved
// model.
func Decorator(opts ...Option) model.Decorator {
	return func(inner ports.ChatModel) ports.ChatModel {
		return Wrap(inner, opts...)
	}
}

// ExponentialBackoff returns min(2^attempt seconds, max).
func ExponentialBackoff(max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		delay := time.Duration(math.Pow(2, float64(attempt)) * float64(time.Second))
		if delay > max || delay <= 0 {
			return max
		}
		return delay
	}
}

// Unwrap returns the guarded model.
func (m *Model) Unwrap() ports.ChatModel { return m.inner }

func (m *Model) Name() string { return m.inner.Name() }

func (m *Model) Generate(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	entry := calllog.Entry{Kind: domain.CallKindProviderCall, Request: req, Model: m.modelName(req)}

	req, err := m.runPre(ctx, req)
	if err != nil {
		entry.Duration = time.Since(start)
		m.calls.LogError(ctx, entry, err)
		return nil, err
	}
	entry.Request = req

	var resp *domain.ChatResponse
	for attempt := 0; ; attempt++ {
		entry.Attempts = attempt + 1
		resp, err = m.inner.Generate(ctx, req)
		if err == nil {
			break
		}
		if attempt >= m.maxRetries || !Retryable(err) {
			break
		}
		if werr := m.wait(ctx, attempt, err); werr != nil {
			err = werr
			break
		}
	}
	if err != nil {
		entry.Duration = time.Since(start)
		m.calls.LogError(ctx, entry, err)
		return nil, err
	}

	resp, err = m.runPost(ctx, req, resp)
	if err != nil {
		entry.Duration = time.Since(start)
		m.calls.LogError(ctx, entry, err)
		return nil, err
	}

	resp.Usage = m.account(entry.Model, req, resp.Message.Content, resp.Usage)
	entry.Duration = time.Since(start)
	m.calls.LogCall(ctx, entry, resp)
	return resp, nil
}

// Stream retries the whole call only while nothing has been forwarded to
// the consumer. message_end is held back until accounting and post hooks
// have run, and carries the final usage.
func (m *Model) Stream(ctx context.Context, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		start := time.Now()
		entry := calllog.Entry{Kind: domain.CallKindProviderCall, Request: req, Model: m.modelName(req), Stream: true}

		req, err := m.runPre(ctx, req)
		if err != nil {
			entry.Duration = time.Since(start)
			m.calls.LogError(ctx, entry, err)
			yield(domain.StreamEvent{}, err)
			return
		}
		entry.Request = req

		for attempt := 0; ; attempt++ {
			entry.Attempts = attempt + 1
			a := m.streamAttempt(ctx, req, yield)

			if a.failure != nil && a.forwarded == 0 && attempt < m.maxRetries && Retryable(a.failure) {
				werr := m.wait(ctx, attempt, a.failure)
				if werr == nil {
					continue
				}
				a.failure = werr
			}

			entry.Duration = time.Since(start)
			m.finishStream(ctx, entry, req, a, yield)
			return
		}
	}
}

type streamAttempt struct {
	events    []domain.StreamEvent
	forwarded int
	held      *domain.StreamEvent
	usage     *domain.Usage
	stopped   bool

	// failure is a raised error, or an error event that arrived before any
	// chunk was forwarded and is therefore still retryable.
	failure    error
	failureEvt *domain.StreamEvent

	// terminalEvt is an error event already forwarded to the consumer.
	terminalEvt bool
}

func (m *Model) streamAttempt(ctx context.Context, req *domain.ChatRequest, yield func(domain.StreamEvent, error) bool) streamAttempt {
	var a streamAttempt
	for ev, err := range m.inner.Stream(ctx, req) {
		if err != nil {
			a.failure = err
			return a
		}
		switch ev.Type {
		case domain.EventError:
			if a.forwarded == 0 {
				a.failure = ErrorFromEvent(ev)
				a.failureEvt = &ev
				return a
			}
			a.events = append(a.events, ev)
			a.terminalEvt = true
			yield(ev, nil)
			return a
		case domain.EventMessageEnd:
			if u, ok := ev.Data["usage"].(*domain.Usage); ok {
				a.usage = u
			}
			a.held = &ev
			continue
		}
		a.events = append(a.events, ev)
		a.forwarded++
		if !yield(ev, nil) {
			a.stopped = true
			return a
		}
	}
	return a
}

func (m *Model) finishStream(ctx context.Context, entry calllog.Entry, req *domain.ChatRequest, a streamAttempt, yield func(domain.StreamEvent, error) bool) {
	switch {
	case a.failure != nil && a.failureEvt != nil:
		a.events = append(a.events, *a.failureEvt)
		m.calls.LogStream(ctx, entry, a.events)
		yield(*a.failureEvt, nil)
		return
	case a.failure != nil:
		m.calls.LogError(ctx, entry, a.failure)
		yield(domain.StreamEvent{}, a.failure)
		return
	case a.terminalEvt || a.stopped:
		m.calls.LogStream(ctx, entry, a.events)
		return
	}

	assembled := calllog.Assemble(a.events)
	usage := m.account(entry.Model, req, assembled.Content, a.usage)
	entry.Usage = usage

	resp := &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: assembled.Content},
		Model:   assembled.Model,
		Usage:   usage,
	}
	if _, err := m.runPost(ctx, req, resp); err != nil {
		ev := domain.StreamEvent{
			Type: domain.EventError,
			Data: map[string]any{
				"message":    err.Error(),
				"error_type": domain.ErrorType(err),
			},
			RunID: req.RunID(),
		}
		if a.held != nil {
			ev.Sequence = a.held.Sequence
		}
		a.events = append(a.events, ev)
		m.calls.LogStream(ctx, entry, a.events)
		yield(ev, nil)
		return
	}

	if a.held != nil {
		end := *a.held
		data := make(map[string]any, len(end.Data)+1)
		for k, v := range end.Data {
			data[k] = v
		}
		data["usage"] = usage
		end.Data = data
		a.events = append(a.events, end)
		m.calls.LogStream(ctx, entry, a.events)
		yield(end, nil)
		return
	}
	m.calls.LogStream(ctx, entry, a.events)
}

func (m *Model) runPre(ctx context.Context, req *domain.ChatRequest) (*domain.ChatRequest, error) {
	if m.hooks == nil {
		return req, nil
	}
	return m.hooks.RunPre(ctx, req, m.hookMeta(req))
}

func (m *Model) runPost(ctx context.Context, req *domain.ChatRequest, resp *domain.ChatResponse) (*domain.ChatResponse, error) {
	if m.hooks == nil {
		return resp, nil
	}
	return m.hooks.RunPost(ctx, req, resp, m.hookMeta(req))
}

func (m *Model) hookMeta(req *domain.ChatRequest) map[string]any {
	return map[string]any{
		"model":  m.modelName(req),
		"run_id": req.RunID(),
	}
}

func (m *Model) wait(ctx context.Context, attempt int, cause error) error {
	delay := m.backoff(attempt)
	m.logger.Warn("retryable provider error, retrying",
		slog.String("model", m.inner.Name()),
		slog.Int("attempt", attempt+1),
		slog.Int("max_retries", m.maxRetries),
		slog.Duration("backoff", delay),
		slog.String("error", cause.Error()),
	)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// account fills missing token counts from the local tokenizer and missing
// cost from the price table. Either may stay unset.
func (m *Model) account(modelName string, req *domain.ChatRequest, output string, usage *domain.Usage) *domain.Usage {
	u := &domain.Usage{}
	if usage != nil {
		*u = *usage
	}
	if !u.HasTokens() && m.counter != nil {
		est := m.counter.EstimateUsage(modelName, req.Messages, output)
		u.PromptTokens = est.PromptTokens
		u.CompletionTokens = est.CompletionTokens
		u.TotalTokens = est.TotalTokens
	}
	if u.TotalTokens == nil && u.HasTokens() {
		u.TotalTokens = domain.IntPtr(*u.PromptTokens + *u.CompletionTokens)
	}
	if u.CostUSD == nil && u.HasTokens() && m.prices != nil {
		if cost, ok := m.prices.Cost(modelName, *u.PromptTokens, *u.CompletionTokens); ok {
			u.CostUSD = domain.FloatPtr(cost)
		}
	}
	return u
}

func (m *Model) modelName(req *domain.ChatRequest) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return m.inner.Name()
}
