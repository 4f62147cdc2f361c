package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/tool"
)

const (
	// ToolLoopID is the id of the tool-calling loop pipeline.
	ToolLoopID = "simple_chat"

	// DefaultMaxIterations bounds the tool-calling rounds.
	DefaultMaxIterations = 10
)

// ToolLookup finds tools by name.
type ToolLookup interface {
	Lookup(name string) (ports.Tool, bool)
}

// Option configures a ToolLoop.
type Option func(*ToolLoop)

// WithMaxIterations bounds the number of tool-calling rounds.
func WithMaxIterations(n int) Option {
	return func(p *ToolLoop) {
		if n > 0 {
			p.maxIterations = n
		}
	}
}

// WithID registers the loop under a different pipeline id.
func WithID(id string) Option {
	return func(p *ToolLoop) {
		if id != "" {
			p.id = id
		}
	}
}

// WithLogger sets the logger for tool diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *ToolLoop) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// ToolLoop lets the model call tools for a bounded number of rounds before
// it must answer. Tool failures are fed back to the model as structured
// error results and never end the run.
type ToolLoop struct {
	id            string
	models        ports.ModelResolver
	tools         ToolLookup
	maxIterations int
	logger        *slog.Logger
}

var _ ports.Pipeline = (*ToolLoop)(nil)

// NewToolLoop creates the tool-calling loop.
func NewToolLoop(models ports.ModelResolver, tools ToolLookup, opts ...Option) *ToolLoop {
	p := &ToolLoop{
		id:            ToolLoopID,
		models:        models,
		tools:         tools,
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ToolLoop) ID() string { return p.id }

func (p *ToolLoop) Capabilities() ports.Capabilities {
	return ports.Capabilities{ports.CapabilityStreaming, ports.CapabilityTools}
}

// Run answers req, executing tool calls between rounds. When every round
// still asks for tools, one last call is made with no tools bound.
func (p *ToolLoop) Run(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	m, err := p.models.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	if len(req.Tools) == 0 {
		return m.Generate(ctx, req)
	}

	working, bound, err := p.bindTools(req)
	if err != nil {
		return nil, err
	}

	for i := 0; i < p.maxIterations; i++ {
		resp, err := m.Generate(ctx, working)
		if err != nil {
			return nil, err
		}
		if !resp.Message.HasToolCalls() {
			return resp, nil
		}
		p.logger.Debug("tool round",
			slog.String("run_id", req.RunID()),
			slog.Int("iteration", i+1),
			slog.Int("tool_calls", len(resp.Message.ToolCalls)))

		working.Messages = append(working.Messages, assistantMessage(resp.Message))
		for _, call := range resp.Message.ToolCalls {
			content := p.execute(ctx, bound, call, req.Context)
			working.Messages = append(working.Messages, toolMessage(call, content))
		}
	}

	p.logger.Warn("tool loop reached max iterations",
		slog.String("run_id", req.RunID()),
		slog.Int("max_iterations", p.maxIterations))
	return m.Generate(ctx, stripTools(working))
}

// Stream decides every tool round with Generate and only streams the final
// answer. tool_start and tool_end events share the run's sequence counter
// with the forwarded final stream.
func (p *ToolLoop) Stream(ctx context.Context, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		m, err := p.models.Resolve(req.Model)
		if err != nil {
			yield(domain.StreamEvent{}, err)
			return
		}

		seq := &sequencer{runID: req.RunID()}
		if len(req.Tools) == 0 {
			seq.forward(m.Stream(ctx, req), yield)
			return
		}

		working, bound, err := p.bindTools(req)
		if err != nil {
			yield(domain.StreamEvent{}, err)
			return
		}

		for i := 0; i < p.maxIterations; i++ {
			resp, err := m.Generate(ctx, working)
			if err != nil {
				yield(domain.StreamEvent{}, err)
				return
			}
			if !resp.Message.HasToolCalls() {
				seq.forward(m.Stream(ctx, stripTools(working)), yield)
				return
			}

			working.Messages = append(working.Messages, assistantMessage(resp.Message))
			for _, call := range resp.Message.ToolCalls {
				if !yield(seq.next(domain.EventToolStart, map[string]any{
					"tool_name":    call.Name,
					"tool_call_id": call.ID,
					"arguments":    call.Arguments,
				}), nil) {
					return
				}

				content := p.execute(ctx, bound, call, req.Context)
				working.Messages = append(working.Messages, toolMessage(call, content))

				if !yield(seq.next(domain.EventToolEnd, map[string]any{
					"tool_name":    call.Name,
					"tool_call_id": call.ID,
					"result":       content,
				}), nil) {
					return
				}
			}
		}

		p.logger.Warn("tool loop reached max iterations",
			slog.String("run_id", req.RunID()),
			slog.Int("max_iterations", p.maxIterations))
		seq.forward(m.Stream(ctx, stripTools(working)), yield)
	}
}

// boundTool is a tool the caller requested, with its compiled parameter
// schema.
type boundTool struct {
	tool      ports.Tool
	validator *tool.Validator
}

// bindTools resolves every requested tool name and attaches the schemas to a
// copy of req. Only the returned tools may be executed for this run.
func (p *ToolLoop) bindTools(req *domain.ChatRequest) (*domain.ChatRequest, map[string]boundTool, error) {
	bound := make(map[string]boundTool, len(req.Tools))
	schemas := make([]domain.ToolSchema, 0, len(req.Tools))
	for _, name := range req.Tools {
		t, ok := p.tools.Lookup(name)
		if !ok {
			return nil, nil, domain.ErrInvalidRequest("unknown tool: %s", name)
		}
		if _, dup := bound[name]; dup {
			continue
		}
		v, err := tool.CompileTool(t)
		if err != nil {
			return nil, nil, domain.ErrConfiguration("tool %s has an invalid parameter schema", name).WithCause(err)
		}
		bound[name] = boundTool{tool: t, validator: v}
		schemas = append(schemas, tool.Schema(t))
	}
	working := req.Clone()
	working.ToolSchemas = schemas
	return working, bound, nil
}

// execute runs one tool call and returns its serialized result.
func (p *ToolLoop) execute(ctx context.Context, bound map[string]boundTool, call domain.ToolCall, rc *domain.RunContext) string {
	data, err := json.Marshal(p.invoke(ctx, bound, call, rc))
	if err != nil {
		data, _ = json.Marshal(map[string]any{"error": fmt.Sprintf("tool result is not serializable: %v", err)})
	}
	return string(data)
}

func (p *ToolLoop) invoke(ctx context.Context, bound map[string]boundTool, call domain.ToolCall, rc *domain.RunContext) (result map[string]any) {
	b, ok := bound[call.Name]
	if !ok {
		return map[string]any{"error": "unknown tool: " + call.Name}
	}
	if err := b.validator.Validate(call.Arguments); err != nil {
		return map[string]any{"error": err.Error()}
	}
	t := b.tool

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("tool panicked",
				slog.String("tool", call.Name),
				slog.Any("panic", r))
			result = map[string]any{"error": fmt.Sprintf("%v", r)}
		}
	}()

	out, err := t.Run(ctx, call.Arguments, rc)
	if err != nil {
		p.logger.Info("tool failed",
			slog.String("tool", call.Name),
			slog.String("tool_call_id", call.ID),
			slog.String("error", err.Error()))
		return map[string]any{"error": err.Error()}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func assistantMessage(msg domain.Message) domain.Message {
	msg.Role = domain.RoleAssistant
	return msg
}

func toolMessage(call domain.ToolCall, content string) domain.Message {
	return domain.Message{Role: domain.RoleTool, Content: content, ToolCallID: call.ID}
}

func stripTools(req *domain.ChatRequest) *domain.ChatRequest {
	final := req.Clone()
	final.Tools = nil
	final.ToolSchemas = nil
	return final
}

// sequencer stamps events with the run id and a counter starting at 1.
type sequencer struct {
	runID string
	n     int
}

func (s *sequencer) next(t domain.StreamEventType, data map[string]any) domain.StreamEvent {
	s.n++
	return domain.StreamEvent{Type: t, Data: data, Sequence: s.n, RunID: s.runID}
}

// forward re-sequences a model stream onto the run counter.
func (s *sequencer) forward(events iter.Seq2[domain.StreamEvent, error], yield func(domain.StreamEvent, error) bool) {
	for ev, err := range events {
		if err != nil {
			yield(domain.StreamEvent{}, err)
			return
		}
		s.n++
		ev.Sequence = s.n
		if ev.RunID == "" {
			ev.RunID = s.runID
		}
		if !yield(ev, nil) {
			return
		}
	}
}
