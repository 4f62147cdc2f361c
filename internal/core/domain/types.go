// Package domain holds the shared orchestration types passed between the
// service facade, pipelines, models and tools.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is only set on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a tool-role message with the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// RunContext identifies one logical request. It is created once and read-only
// afterwards.
type RunContext struct {
	RunID          string    `json:"run_id"`
	TraceID        string    `json:"trace_id"`
	UserID         string    `json:"user_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`

	// DeadlineSeconds is advisory. Nothing enforces it.
	DeadlineSeconds *float64 `json:"deadline_seconds,omitempty"`
}

// NewRunContext returns a context with fresh run and trace ids.
func NewRunContext() *RunContext {
	return &RunContext{
		RunID:     uuid.NewString(),
		TraceID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}

// ToolSchema is the function wrapper sent to models that support tools.
type ToolSchema struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is the normalized request dispatched to a pipeline.
type ChatRequest struct {
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Model    string         `json:"model,omitempty"`
	Params   map[string]any `json:"params,omitempty"`

	// Tools names the tools the caller wants bound to the conversation.
	Tools []string `json:"tools,omitempty"`

	// ToolSchemas is set by the pipeline, never by callers.
	ToolSchemas []ToolSchema `json:"-"`

	Context *RunContext `json:"context,omitempty"`
}

// Clone returns a copy whose message slice can be appended to independently.
func (r *ChatRequest) Clone() *ChatRequest {
	c := *r
	c.Messages = append([]Message(nil), r.Messages...)
	c.Tools = append([]string(nil), r.Tools...)
	c.ToolSchemas = append([]ToolSchema(nil), r.ToolSchemas...)
	return &c
}

// RunID returns the request's run id, or "" when no context is attached.
func (r *ChatRequest) RunID() string {
	if r.Context == nil {
		return ""
	}
	return r.Context.RunID
}

// ChatResponse is the result of one non-streaming call.
type ChatResponse struct {
	Message  Message        `json:"message"`
	Model    string         `json:"model"`
	Usage    *Usage         `json:"usage,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Usage carries token accounting. Every field is optional.
type Usage struct {
	PromptTokens     *int     `json:"prompt_tokens,omitempty"`
	CompletionTokens *int     `json:"completion_tokens,omitempty"`
	TotalTokens      *int     `json:"total_tokens,omitempty"`
	CostUSD          *float64 `json:"cost_usd,omitempty"`
}

// HasTokens reports whether both prompt and completion counts are known.
func (u *Usage) HasTokens() bool {
	return u != nil && u.PromptTokens != nil && u.CompletionTokens != nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }

// StreamEventType identifies a stream event.
type StreamEventType string

const (
	EventMessageStart StreamEventType = "message_start"
	EventToken        StreamEventType = "token"
	EventMessageEnd   StreamEventType = "message_end"
	EventToolStart    StreamEventType = "tool_start"
	EventToolEnd      StreamEventType = "tool_end"
	EventError        StreamEventType = "error"
	EventMeta         StreamEventType = "meta"
)

// StreamEvent is one unit of incremental output. Sequence starts at 1 and
// strictly increases for a given run.
type StreamEvent struct {
	Type     StreamEventType `json:"event_type"`
	Data     map[string]any  `json:"data"`
	Sequence int             `json:"sequence"`
	RunID    string          `json:"run_id"`
}

// Text returns the token text carried by a token event.
func (e StreamEvent) Text() string {
	s, _ := e.Data["text"].(string)
	return s
}
