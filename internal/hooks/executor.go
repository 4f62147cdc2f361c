package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// Executor runs ordered lists of pre and post stages.
type Executor struct {
	preStages  []ports.Stage
	postStages []ports.Stage
}

// StageConfig places a stage in the executor.
type StageConfig struct {
	Type  ports.StageType
	Order int
	Stage ports.Stage
}

// NewExecutor sorts stages by Order within their phase. Stages with equal
// order keep their listed order.
func NewExecutor(stages ...StageConfig) *Executor {
	var pre, post []StageConfig
	for _, s := range stages {
		switch s.Type {
		case ports.StagePre:
			pre = append(pre, s)
		case ports.StagePost:
			post = append(post, s)
		}
	}
	sort.SliceStable(pre, func(i, j int) bool { return pre[i].Order < pre[j].Order })
	sort.SliceStable(post, func(i, j int) bool { return post[i].Order < post[j].Order })

	e := &Executor{}
	for _, s := range pre {
		e.preStages = append(e.preStages, s.Stage)
	}
	for _, s := range post {
		e.postStages = append(e.postStages, s.Stage)
	}
	return e
}

// RunPre executes the pre stages and returns the possibly replaced request.
func (e *Executor) RunPre(ctx context.Context, req *domain.ChatRequest, meta map[string]any) (*domain.ChatRequest, error) {
	current := req
	for _, stage := range e.preStages {
		out, err := stage.Process(ctx, &ports.StageInput{
			Phase:    "request",
			Request:  current,
			Metadata: meta,
		})
		if err != nil {
			return nil, fmt.Errorf("hook stage %s error: %w", stage.Name(), err)
		}

		switch out.Action {
		case ports.ActionDeny:
			return nil, denied(stage, out.DenyReason)
		case ports.ActionMutate:
			if out.Request != nil {
				current = out.Request
			}
		}
	}
	return current, nil
}

// RunPost executes the post stages and returns the possibly replaced response.
func (e *Executor) RunPost(ctx context.Context, req *domain.ChatRequest, resp *domain.ChatResponse, meta map[string]any) (*domain.ChatResponse, error) {
	current := resp
	for _, stage := range e.postStages {
		out, err := stage.Process(ctx, &ports.StageInput{
			Phase:    "response",
			Request:  req,
			Response: current,
			Metadata: meta,
		})
		if err != nil {
			return nil, fmt.Errorf("hook stage %s error: %w", stage.Name(), err)
		}

		switch out.Action {
		case ports.ActionDeny:
			return nil, denied(stage, out.DenyReason)
		case ports.ActionMutate:
			if out.Response != nil {
				current = out.Response
			}
		}
	}
	return current, nil
}

// HasPreStages reports whether any pre stage is configured.
func (e *Executor) HasPreStages() bool {
	return len(e.preStages) > 0
}

// HasPostStages reports whether any post stage is configured.
func (e *Executor) HasPostStages() bool {
	return len(e.postStages) > 0
}

// DeniedError records which stage vetoed a call.
type DeniedError struct {
	StageName string
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("denied by %s: %s", e.StageName, e.Reason)
}

func denied(stage ports.Stage, reason string) error {
	if reason == "" {
		reason = "denied by hook stage " + stage.Name()
	}
	d := &DeniedError{StageName: stage.Name(), Reason: reason}
	return domain.ErrPolicyDenied("hook veto").WithCause(d)
}

// IsDenied reports whether err is a stage veto.
func IsDenied(err error) bool {
	var d *DeniedError
	return errors.As(err, &d)
}

var _ ports.HookRunner = (*Executor)(nil)
