package ports

import (
	"context"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

// StageType determines when a hook stage runs.
type StageType string

const (
	// StagePre runs before the provider call.
	StagePre StageType = "pre"
	// StagePost runs after a response is received.
	StagePost StageType = "post"
)

// StageAction is the verdict of a hook stage.
type StageAction string

const (
	ActionAllow  StageAction = "allow"
	ActionDeny   StageAction = "deny"
	ActionMutate StageAction = "mutate"
)

// StageInput is the data handed to a hook stage.
type StageInput struct {
	// Phase is "request" or "response".
	Phase    string               `json:"phase"`
	Request  *domain.ChatRequest  `json:"request"`
	Response *domain.ChatResponse `json:"response,omitempty"`
	Metadata map[string]any       `json:"metadata"`
}

// StageOutput is returned from a hook stage.
type StageOutput struct {
	Action StageAction `json:"action"`

	// Request replaces the request when Action is mutate in the request phase.
	Request *domain.ChatRequest `json:"request,omitempty"`

	// Response replaces the response when Action is mutate in the response phase.
	Response *domain.ChatResponse `json:"response,omitempty"`

	DenyReason string `json:"deny_reason,omitempty"`
}

// Stage is one pre-call or post-call policy hook.
type Stage interface {
	Name() string
	Type() StageType
	Process(ctx context.Context, in *StageInput) (*StageOutput, error)
}

// HookRunner runs the configured pre and post stages around a provider call.
type HookRunner interface {
	RunPre(ctx context.Context, req *domain.ChatRequest, meta map[string]any) (*domain.ChatRequest, error)
	RunPost(ctx context.Context, req *domain.ChatRequest, resp *domain.ChatResponse, meta map[string]any) (*domain.ChatResponse, error)
}
