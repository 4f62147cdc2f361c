// Package openai implements a ChatModel against any server speaking the
// OpenAI chat completions protocol.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	userAgent      = "polyglot-orchestrator"
)

// Option configures a Model.
type Option func(*Model)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(m *Model) {
		if baseURL != "" {
			m.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(m *Model) {
		m.httpClient = httpClient
	}
}

// WithModelID sets the model id sent upstream when it differs from the name
// the model was resolved by.
func WithModelID(id string) Option {
	return func(m *Model) {
		m.modelID = id
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

// Model is a ports.ChatModel backed by an OpenAI-compatible HTTP API.
type Model struct {
	name       string
	modelID    string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a model that reports itself as name.
func New(name, apiKey string, opts ...Option) *Model {
	m := &Model{
		name:       name,
		modelID:    name,
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Model) Name() string {
	return m.name
}

// Generate sends one non-streaming chat completion.
func (m *Model) Generate(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	apiReq, err := m.toAPIRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := m.post(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrProvider(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, domain.ErrProvider(fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if len(out.Choices) == 0 {
		return nil, domain.ErrProvider(fmt.Errorf("response %s has no choices", out.ID))
	}

	msg, err := toDomainMessage(out.Choices[0].Message)
	if err != nil {
		return nil, err
	}
	return &domain.ChatResponse{
		Message: msg,
		Model:   m.name,
		Usage:   toDomainUsage(out.Usage),
		Metadata: map[string]any{
			"id":            out.ID,
			"finish_reason": out.Choices[0].FinishReason,
		},
	}, nil
}

// Stream sends a streaming chat completion. A non-200 status is yielded as an
// error before any event; failures after message_start become one error event.
func (m *Model) Stream(ctx context.Context, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		apiReq, err := m.toAPIRequest(req)
		if err != nil {
			yield(domain.StreamEvent{}, err)
			return
		}
		apiReq.Stream = true
		apiReq.StreamOptions = &streamOptions{IncludeUsage: true}

		resp, err := m.post(ctx, apiReq)
		if err != nil {
			yield(domain.StreamEvent{}, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield(domain.StreamEvent{}, statusError(resp.StatusCode, body))
			return
		}

		seq := 0
		emit := func(t domain.StreamEventType, data map[string]any) bool {
			seq++
			return yield(domain.StreamEvent{Type: t, Data: data, Sequence: seq, RunID: req.RunID()}, nil)
		}
		fail := func(msg string) {
			emit(domain.EventError, map[string]any{
				"message":    msg,
				"error_type": string(domain.KindProvider),
			})
		}

		if !emit(domain.EventMessageStart, map[string]any{"model": m.name}) {
			return
		}

		var final *usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				break
			}

			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				fail(fmt.Sprintf("failed to unmarshal chunk: %v", err))
				return
			}
			if chunk.Error != nil {
				fail(chunk.Error.Error())
				return
			}
			for _, c := range chunk.Choices {
				if c.Delta.Content == "" {
					continue
				}
				if !emit(domain.EventToken, map[string]any{"text": c.Delta.Content}) {
					return
				}
			}
			if chunk.Usage != nil {
				final = chunk.Usage
			}
		}
		if err := scanner.Err(); err != nil {
			fail(fmt.Sprintf("stream read error: %v", err))
			return
		}

		end := map[string]any{"model": m.name}
		if u := toDomainUsage(final); u != nil {
			end["usage"] = u
		}
		emit(domain.EventMessageEnd, end)
	}
}

func (m *Model) post(ctx context.Context, apiReq *chatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, domain.ErrInvalidRequest("failed to marshal request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.ErrConfiguration("failed to create request for %s", m.baseURL).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if apiReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	m.logger.Debug("chat completion request",
		slog.String("model", apiReq.Model),
		slog.Bool("stream", apiReq.Stream),
		slog.Int("messages", len(apiReq.Messages)),
		slog.Int("tools", len(apiReq.Tools)),
	)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ErrProvider(fmt.Errorf("request failed: %w", err))
	}
	return resp, nil
}

// statusError maps an HTTP error response to a provider error carrying the
// upstream status.
func statusError(code int, body []byte) error {
	if apiErr := parseErrorResponse(body); apiErr != nil {
		return domain.ErrProvider(apiErr).WithStatusCode(code)
	}
	return domain.ErrProvider(fmt.Errorf("API error (status %d): %s", code, strings.TrimSpace(string(body)))).WithStatusCode(code)
}

func (m *Model) toAPIRequest(req *domain.ChatRequest) (*chatCompletionRequest, error) {
	apiReq := &chatCompletionRequest{
		Model:    m.modelID,
		Messages: make([]chatMessage, 0, len(req.Messages)),
	}

	for _, msg := range req.Messages {
		wire, err := toAPIMessage(msg)
		if err != nil {
			return nil, err
		}
		apiReq.Messages = append(apiReq.Messages, wire)
	}

	for _, s := range req.ToolSchemas {
		apiReq.Tools = append(apiReq.Tools, toolParam{
			Type: s.Type,
			Function: functionTool{
				Name:        s.Function.Name,
				Description: s.Function.Description,
				Parameters:  s.Function.Parameters,
			},
		})
	}

	if v, ok := floatParam(req.Params, "temperature"); ok {
		apiReq.Temperature = &v
	}
	if v, ok := floatParam(req.Params, "top_p"); ok {
		apiReq.TopP = &v
	}
	for _, key := range []string{"max_completion_tokens", "max_tokens"} {
		if v, ok := floatParam(req.Params, key); ok && v > 0 {
			apiReq.MaxCompletionTokens = int(v)
			break
		}
	}
	switch stop := req.Params["stop"].(type) {
	case string:
		apiReq.Stop = []string{stop}
	case []string:
		apiReq.Stop = stop
	case []any:
		for _, s := range stop {
			apiReq.Stop = append(apiReq.Stop, fmt.Sprint(s))
		}
	}
	if req.Context != nil {
		apiReq.User = req.Context.UserID
	}
	return apiReq, nil
}

func toAPIMessage(msg domain.Message) (chatMessage, error) {
	content := msg.Content
	wire := chatMessage{
		Role:       string(msg.Role),
		Content:    &content,
		ToolCallID: msg.ToolCallID,
	}
	if msg.HasToolCalls() && content == "" {
		wire.Content = nil
	}
	for _, tc := range msg.ToolCalls {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			return chatMessage{}, domain.ErrInvalidRequest("tool call %s has unencodable arguments", tc.ID).WithCause(err)
		}
		wire.ToolCalls = append(wire.ToolCalls, toolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: functionCall{Name: tc.Name, Arguments: string(args)},
		})
	}
	return wire, nil
}

func toDomainMessage(wire chatMessage) (domain.Message, error) {
	msg := domain.Message{Role: domain.RoleAssistant}
	if wire.Content != nil {
		msg.Content = *wire.Content
	}
	for _, tc := range wire.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return domain.Message{}, domain.ErrProvider(fmt.Errorf("tool call %s has malformed arguments: %w", tc.ID, err))
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return msg, nil
}

func toDomainUsage(u *usage) *domain.Usage {
	if u == nil {
		return nil
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return &domain.Usage{
		PromptTokens:     domain.IntPtr(u.PromptTokens),
		CompletionTokens: domain.IntPtr(u.CompletionTokens),
		TotalTokens:      domain.IntPtr(total),
	}
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
