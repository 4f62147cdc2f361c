package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// Headers sent with every webhook call so receivers can correlate verdicts
// with call logs without parsing the body.
const (
	RunIDHeader = "X-Run-ID"
	PhaseHeader = "X-Hook-Phase"
)

// maxVerdictBytes bounds the webhook response body.
const maxVerdictBytes = 1 << 20

// WebhookStageConfig configures a webhook stage.
type WebhookStageConfig struct {
	Name    string
	Type    ports.StageType
	URL     string
	Timeout time.Duration
	OnError ports.StageAction // allow or deny, default deny
	Retries int
	Headers map[string]string
	Client  *http.Client
	Logger  *slog.Logger
}

// WebhookStage posts the stage input to an external endpoint and applies the
// verdict it returns.
type WebhookStage struct {
	cfg WebhookStageConfig
}

// NewWebhookStage creates a webhook stage. A failing webhook denies unless
// OnError is allow.
func NewWebhookStage(cfg WebhookStageConfig) *WebhookStage {
	if cfg.OnError == "" {
		cfg.OnError = ports.ActionDeny
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebhookStage{cfg: cfg}
}

func (s *WebhookStage) Name() string          { return s.cfg.Name }
func (s *WebhookStage) Type() ports.StageType { return s.cfg.Type }

// permanentError marks a webhook failure that another attempt cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Process calls the webhook up to Retries+1 times. Transport failures, 429
// and 5xx responses are retried; any other failure ends the attempts. When
// no verdict is obtained the OnError action applies.
func (s *WebhookStage) Process(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal stage input: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		out, err := s.call(ctx, in, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
		s.cfg.Logger.Debug("hook webhook attempt failed",
			slog.String("stage", s.cfg.Name),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		var perm permanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			break
		}
	}
	return s.fallback(lastErr), nil
}

func (s *WebhookStage) call(ctx context.Context, in *ports.StageInput, body []byte) (*ports.StageOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, permanentError{fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(PhaseHeader, in.Phase)
	if in.Request != nil {
		req.Header.Set(RunIDHeader, in.Request.RunID())
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVerdictBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, permanentError{fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))}
	}
	return decodeVerdict(data)
}

// decodeVerdict parses a webhook reply. An empty action means allow.
func decodeVerdict(data []byte) (*ports.StageOutput, error) {
	var out ports.StageOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, permanentError{fmt.Errorf("decode verdict: %w", err)}
	}
	switch out.Action {
	case "":
		out.Action = ports.ActionAllow
	case ports.ActionAllow, ports.ActionDeny, ports.ActionMutate:
	default:
		return nil, permanentError{fmt.Errorf("unknown webhook action %q", out.Action)}
	}
	return &out, nil
}

func (s *WebhookStage) fallback(err error) *ports.StageOutput {
	if s.cfg.OnError == ports.ActionAllow {
		s.cfg.Logger.Warn("hook webhook failed, allowing",
			slog.String("stage", s.cfg.Name),
			slog.String("error", err.Error()))
		return &ports.StageOutput{Action: ports.ActionAllow}
	}
	return &ports.StageOutput{
		Action:     ports.ActionDeny,
		DenyReason: fmt.Sprintf("webhook %s failed: %v", s.cfg.Name, err),
	}
}

var _ ports.Stage = (*WebhookStage)(nil)
