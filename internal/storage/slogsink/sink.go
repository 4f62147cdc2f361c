// Package slogsink emits call logs as structured log records.
package slogsink

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// Sink writes one log record per call log at Info, or Warn for failures.
type Sink struct {
	logger *slog.Logger
}

var _ ports.CallLogSink = (*Sink)(nil)

func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger.With("component", "call_log")}
}

func (s *Sink) WriteCallLog(ctx context.Context, rec *domain.CallLog) error {
	attrs := []slog.Attr{
		slog.String("id", rec.ID),
		slog.String("kind", string(rec.Kind)),
		slog.String("run_id", rec.RunID),
		slog.String("model", rec.Model),
		slog.Bool("stream", rec.Stream),
		slog.String("status", string(rec.Status)),
		slog.Duration("duration", rec.Duration),
	}
	if rec.PipelineID != "" {
		attrs = append(attrs, slog.String("pipeline_id", rec.PipelineID))
	}
	if rec.Attempts > 0 {
		attrs = append(attrs, slog.Int("attempts", rec.Attempts))
	}
	if u := rec.Usage; u != nil {
		if u.TotalTokens != nil {
			attrs = append(attrs, slog.Int("total_tokens", *u.TotalTokens))
		}
		if u.CostUSD != nil {
			attrs = append(attrs, slog.Float64("cost_usd", *u.CostUSD))
		}
	}

	level := slog.LevelInfo
	if rec.Status != domain.CallStatusSuccess {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_type", rec.ErrorType),
			slog.String("error", rec.ErrorMessage),
		)
		if rec.Reason != "" {
			attrs = append(attrs, slog.String("reason", rec.Reason))
		}
	}

	s.logger.LogAttrs(ctx, level, "call completed", attrs...)
	return nil
}

func (s *Sink) Close() error { return nil }
