package hooks

import (
	"context"
	"fmt"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// MaxMessagesStage denies requests whose conversation exceeds a length.
type MaxMessagesStage struct {
	name string
	max  int
}

// NewMaxMessagesStage creates a pre stage. A max of zero or less allows all.
func NewMaxMessagesStage(name string, max int) *MaxMessagesStage {
	return &MaxMessagesStage{name: name, max: max}
}

func (s *MaxMessagesStage) Name() string { return s.name }

func (s *MaxMessagesStage) Type() ports.StageType { return ports.StagePre }

func (s *MaxMessagesStage) Process(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	if s.max > 0 && in.Request != nil && len(in.Request.Messages) > s.max {
		return &ports.StageOutput{
			Action:     ports.ActionDeny,
			DenyReason: fmt.Sprintf("conversation has %d messages, limit is %d", len(in.Request.Messages), s.max),
		}, nil
	}
	return &ports.StageOutput{Action: ports.ActionAllow}, nil
}
