package domain

import "time"

// CallStatus is the outcome recorded in a call log.
type CallStatus string

const (
	CallStatusSuccess       CallStatus = "success"
	CallStatusError         CallStatus = "error"
	CallStatusLoggingFailed CallStatus = "logging_failed"
)

// CallKind distinguishes facade-level records from per-provider-call records.
type CallKind string

const (
	CallKindRequest      CallKind = "request"
	CallKindProviderCall CallKind = "provider_call"
)

// CallLog is an append-only audit record of one call. Records are never
// mutated after they are handed to a sink.
type CallLog struct {
	ID             string   `json:"id"`
	Kind           CallKind `json:"kind"`
	RunID          string   `json:"run_id,omitempty"`
	TraceID        string   `json:"trace_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	PipelineID     string   `json:"pipeline_id,omitempty"`
	Model          string   `json:"model"`
	Stream         bool     `json:"stream"`

	Prompt []Message      `json:"prompt,omitempty"`
	Output map[string]any `json:"output,omitempty"`
	Usage  *Usage         `json:"usage,omitempty"`
	Status CallStatus     `json:"status"`

	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Reason is only set on minimal logging_failed records.
	Reason string `json:"reason,omitempty"`

	Attempts  int           `json:"attempts,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// CostUSD returns the recorded cost, or nil.
func (c *CallLog) CostUSD() *float64 {
	if c.Usage == nil {
		return nil
	}
	return c.Usage.CostUSD
}
