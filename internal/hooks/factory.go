package hooks

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// NewExecutorFromConfig builds an executor from the configured hook lists.
// It returns nil when no stage is configured.
func NewExecutorFromConfig(cfg config.HooksConfig, logger *slog.Logger) (*Executor, error) {
	if len(cfg.Pre) == 0 && len(cfg.Post) == 0 {
		return nil, nil
	}

	var stages []StageConfig
	add := func(list []config.StageConfig, typ ports.StageType) error {
		for i, sc := range list {
			stage, err := newStageFromConfig(sc, typ, logger)
			if err != nil {
				return fmt.Errorf("%s hook %d (%s): %w", typ, i, sc.Name, err)
			}
			order := sc.Order
			if order == 0 {
				order = i
			}
			stages = append(stages, StageConfig{Type: typ, Order: order, Stage: stage})
		}
		return nil
	}
	if err := add(cfg.Pre, ports.StagePre); err != nil {
		return nil, err
	}
	if err := add(cfg.Post, ports.StagePost); err != nil {
		return nil, err
	}
	return NewExecutor(stages...), nil
}

func newStageFromConfig(cfg config.StageConfig, typ ports.StageType, logger *slog.Logger) (ports.Stage, error) {
	switch cfg.Type {
	case "max_messages":
		if typ != ports.StagePre {
			return nil, fmt.Errorf("max_messages only runs before the call")
		}
		return NewMaxMessagesStage(cfg.Name, cfg.MaxMessages), nil
	case "", "webhook":
	default:
		return nil, fmt.Errorf("unknown hook type %q", cfg.Type)
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	timeout := 5 * time.Second
	if cfg.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
		}
	}

	var onError ports.StageAction
	switch cfg.OnError {
	case "", "deny":
		onError = ports.ActionDeny
	case "allow":
		onError = ports.ActionAllow
	default:
		return nil, fmt.Errorf("invalid on_error %q (must be 'allow' or 'deny')", cfg.OnError)
	}

	return NewWebhookStage(WebhookStageConfig{
		Name:    cfg.Name,
		Type:    typ,
		URL:     cfg.URL,
		Timeout: timeout,
		OnError: onError,
		Retries: cfg.Retries,
		Logger:  logger,
	}), nil
}
