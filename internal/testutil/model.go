package testutil

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

// ScriptedModel is a ports.ChatModel whose behavior is supplied per call.
// The call index passed to the funcs starts at 0.
type ScriptedModel struct {
	ModelName string

	GenerateFunc func(call int, req *domain.ChatRequest) (*domain.ChatResponse, error)
	StreamFunc   func(call int, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error]

	// Delay is slept before every call.
	Delay time.Duration

	mu            sync.Mutex
	generateCalls int
	streamCalls   int
	requests      []*domain.ChatRequest
}

func (m *ScriptedModel) Name() string {
	if m.ModelName == "" {
		return "scripted"
	}
	return m.ModelName
}

func (m *ScriptedModel) Generate(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	call := m.generateCalls
	m.generateCalls++
	m.requests = append(m.requests, req.Clone())
	m.mu.Unlock()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if m.GenerateFunc == nil {
		return TextResponse(m.Name(), "ok"), nil
	}
	return m.GenerateFunc(call, req)
}

func (m *ScriptedModel) Stream(ctx context.Context, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
	m.mu.Lock()
	call := m.streamCalls
	m.streamCalls++
	m.requests = append(m.requests, req.Clone())
	m.mu.Unlock()

	return func(yield func(domain.StreamEvent, error) bool) {
		if m.Delay > 0 {
			time.Sleep(m.Delay)
		}
		seq := TokenStream(m.Name(), "ok")
		if m.StreamFunc != nil {
			seq = m.StreamFunc(call, req)
		}
		for ev, err := range seq {
			if !yield(ev, err) {
				return
			}
		}
	}
}

// GenerateCalls returns how many times Generate was called.
func (m *ScriptedModel) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// StreamCalls returns how many times Stream was called.
func (m *ScriptedModel) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// Requests returns copies of every request received, in order.
func (m *ScriptedModel) Requests() []*domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.ChatRequest(nil), m.requests...)
}

// TextResponse builds a plain assistant response.
func TextResponse(model, text string) *domain.ChatResponse {
	return &domain.ChatResponse{
		Model:   model,
		Message: domain.Message{Role: domain.RoleAssistant, Content: text},
	}
}

// ToolCallResponse builds an assistant response requesting the given calls.
func ToolCallResponse(model string, calls ...domain.ToolCall) *domain.ChatResponse {
	return &domain.ChatResponse{
		Model:   model,
		Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls},
	}
}

// TokenStream emits message_start, one token per text and message_end.
func TokenStream(model string, texts ...string) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		seq := 1
		emit := func(t domain.StreamEventType, data map[string]any) bool {
			ev := domain.StreamEvent{Type: t, Data: data, Sequence: seq}
			seq++
			return yield(ev, nil)
		}
		if !emit(domain.EventMessageStart, map[string]any{"model": model}) {
			return
		}
		for _, text := range texts {
			if !emit(domain.EventToken, map[string]any{"text": text}) {
				return
			}
		}
		emit(domain.EventMessageEnd, map[string]any{})
	}
}

// FailingStream yields err before producing any event.
func FailingStream(err error) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		yield(domain.StreamEvent{}, err)
	}
}

// Collect drains seq and returns its events and the first error.
func Collect(seq iter.Seq2[domain.StreamEvent, error]) ([]domain.StreamEvent, error) {
	var events []domain.StreamEvent
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}
