package calllog

import (
	"strings"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

// ToolCallSummary pairs a tool_start event with its tool_end.
type ToolCallSummary struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Arguments  any    `json:"arguments,omitempty"`
	Result     any    `json:"result,omitempty"`
}

// Assembled is a stream replayed into a single response.
type Assembled struct {
	Content   string
	Model     string
	ToolCalls []ToolCallSummary
	Events    int

	// Err is set when the stream ended with an error event.
	Err     string
	ErrType string
}

// Assemble concatenates token text in order and pairs tool events by call id
// in order of first appearance.
func Assemble(events []domain.StreamEvent) Assembled {
	var (
		a     Assembled
		b     strings.Builder
		index = make(map[string]int)
	)
	a.Events = len(events)

	slot := func(id string) *ToolCallSummary {
		i, ok := index[id]
		if !ok {
			i = len(a.ToolCalls)
			index[id] = i
			a.ToolCalls = append(a.ToolCalls, ToolCallSummary{ToolCallID: id})
		}
		return &a.ToolCalls[i]
	}

	for _, ev := range events {
		switch ev.Type {
		case domain.EventMessageStart:
			if m, ok := ev.Data["model"].(string); ok {
				a.Model = m
			}
		case domain.EventToken:
			b.WriteString(ev.Text())
		case domain.EventToolStart:
			id, _ := ev.Data["tool_call_id"].(string)
			s := slot(id)
			s.ToolName, _ = ev.Data["tool_name"].(string)
			s.Arguments = ev.Data["arguments"]
		case domain.EventToolEnd:
			id, _ := ev.Data["tool_call_id"].(string)
			s := slot(id)
			if s.ToolName == "" {
				s.ToolName, _ = ev.Data["tool_name"].(string)
			}
			s.Result = ev.Data["result"]
		case domain.EventError:
			a.Err, _ = ev.Data["message"].(string)
			if a.Err == "" {
				a.Err = "stream error"
			}
			a.ErrType, _ = ev.Data["error_type"].(string)
		}
	}
	a.Content = b.String()
	return a
}

// Output renders the assembled stream in the shape of a call-log output.
func (a Assembled) Output() map[string]any {
	out := map[string]any{
		"message": map[string]any{
			"role":    string(domain.RoleAssistant),
			"content": a.Content,
		},
		"tool_calls":  a.ToolCalls,
		"event_count": a.Events,
	}
	if a.Model != "" {
		out["model"] = a.Model
	}
	return out
}
