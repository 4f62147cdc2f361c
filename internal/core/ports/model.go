// Package ports defines the core interfaces of the orchestrator.
package ports

import (
	"context"
	"iter"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

// ChatModel is implemented by every provider backend.
//
// Stream must emit exactly one message_start, zero or more token events and
// exactly one message_end on success. A failure after the stream has started
// is reported as a single in-band error event that ends the sequence. A
// non-nil error yielded alongside an event means the call failed outright.
type ChatModel interface {
	Name() string
	Generate(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)
	Stream(ctx context.Context, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error]
}

// ModelFactory builds a model for a resolved name.
type ModelFactory func(modelName string) (ChatModel, error)

// ModelResolver resolves model names to concrete models.
type ModelResolver interface {
	Resolve(modelName string) (ChatModel, error)
}

// Tool is a callable capability with a JSON-schema argument contract.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Run(ctx context.Context, args map[string]any, rc *domain.RunContext) (map[string]any, error)
}

// Capability is a feature a pipeline declares.
type Capability string

const (
	CapabilityStreaming Capability = "streaming"
	CapabilityTools     Capability = "tools"
)

// Capabilities is the set of features a pipeline supports.
type Capabilities []Capability

// Has reports whether c contains want.
func (c Capabilities) Has(want Capability) bool {
	for _, got := range c {
		if got == want {
			return true
		}
	}
	return false
}

// Pipeline is a named orchestration strategy.
type Pipeline interface {
	ID() string
	Capabilities() Capabilities
	Run(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)
	Stream(ctx context.Context, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error]
}

// CallLogSink is an append-only store of call logs.
type CallLogSink interface {
	WriteCallLog(ctx context.Context, log *domain.CallLog) error
	Close() error
}
