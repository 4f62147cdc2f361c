// Package echo provides a ChatModel that answers with the last user message.
// It needs no credentials and is used for local runs and smoke tests.
package echo

import (
	"context"
	"iter"
	"strings"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/provider/registry"
)

// ProviderType is the provider type identifier used in configuration.
const ProviderType = "echo"

func init() {
	registry.RegisterFactory(registry.ProviderFactory{
		Type:        ProviderType,
		Description: "Echoes the last user message back",
		Create: func(config.ProviderConfig) (ports.ModelFactory, error) {
			return func(name string) (ports.ChatModel, error) { return New(name), nil }, nil
		},
	})
}

// Model echoes the most recent user message. It never requests tools and
// reports no usage, so accounting falls back to the tokenizer.
type Model struct {
	name string
}

// New creates an echo model reporting itself as name.
func New(name string) *Model {
	return &Model{name: name}
}

func (m *Model) Name() string { return m.name }

func (m *Model) Generate(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: reply(req)},
		Model:   m.name,
	}, nil
}

// Stream emits the reply one word at a time, keeping the separating spaces
// so the concatenated tokens equal the Generate content.
func (m *Model) Stream(ctx context.Context, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(domain.StreamEvent{}, err)
			return
		}

		seq := 0
		emit := func(t domain.StreamEventType, data map[string]any) bool {
			seq++
			return yield(domain.StreamEvent{Type: t, Data: data, Sequence: seq, RunID: req.RunID()}, nil)
		}

		if !emit(domain.EventMessageStart, map[string]any{"model": m.name}) {
			return
		}
		for _, word := range splitWords(reply(req)) {
			if !emit(domain.EventToken, map[string]any{"text": word}) {
				return
			}
		}
		emit(domain.EventMessageEnd, map[string]any{"model": m.name})
	}
}

func reply(req *domain.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func splitWords(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s[1:], ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
