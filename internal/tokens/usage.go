package tokens

import (
	"strings"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

// PromptText serializes messages the way fallback accounting counts them:
// one "role: content" line per message.
func PromptText(messages []domain.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// EstimateUsage counts prompt and completion tokens locally.
func (r *Registry) EstimateUsage(model string, messages []domain.Message, output string) *domain.Usage {
	in := r.CountText(model, PromptText(messages))
	out := r.CountText(model, output)
	return &domain.Usage{
		PromptTokens:     domain.IntPtr(in),
		CompletionTokens: domain.IntPtr(out),
		TotalTokens:      domain.IntPtr(in + out),
	}
}
