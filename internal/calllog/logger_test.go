package calllog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

// recordingSink stores records and can be told to fail full or minimal writes.
type recordingSink struct {
	mu          sync.Mutex
	records     []*domain.CallLog
	failFull    bool
	failMinimal bool
	panicFull   bool
	deadlines   []bool
}

func (s *recordingSink) WriteCallLog(ctx context.Context, rec *domain.CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	s.deadlines = append(s.deadlines, hasDeadline)

	minimal := rec.Status == domain.CallStatusLoggingFailed
	if !minimal && s.panicFull {
		panic("driver exploded")
	}
	if (!minimal && s.failFull) || (minimal && s.failMinimal) {
		return errors.New("db unavailable")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) all() []*domain.CallLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.CallLog(nil), s.records...)
}

func testEntry() Entry {
	return Entry{
		PipelineID: "simple_chat",
		Request: &domain.ChatRequest{
			Model:    "gpt-4o",
			Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
			Context:  &domain.RunContext{RunID: "run-1", UserID: "u-1", ConversationID: "c-1"},
		},
		Duration: 10 * time.Millisecond,
	}
}

func TestLogger_LogCall(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink)

	l.LogCall(context.Background(), testEntry(), &domain.ChatResponse{
		Model:   "gpt-4o",
		Message: domain.Message{Role: domain.RoleAssistant, Content: "hello"},
		Usage:   &domain.Usage{PromptTokens: domain.IntPtr(1), CompletionTokens: domain.IntPtr(1)},
	})

	recs := sink.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != domain.CallStatusSuccess || rec.Kind != domain.CallKindRequest {
		t.Errorf("status/kind = %s/%s", rec.Status, rec.Kind)
	}
	if rec.RunID != "run-1" || rec.UserID != "u-1" || rec.ConversationID != "c-1" {
		t.Errorf("attribution = %+v", rec)
	}
	if rec.Model != "gpt-4o" || len(rec.Prompt) != 1 || rec.Usage == nil {
		t.Errorf("record = %+v", rec)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Error("id and timestamp should be filled")
	}
	if msg, ok := rec.Output["message"].(domain.Message); !ok || msg.Content != "hello" {
		t.Errorf("output = %v", rec.Output)
	}
}

func TestLogger_LogError(t *testing.T) {
	sink := &recordingSink{}
	New(sink).LogError(context.Background(), testEntry(), domain.ErrPolicyDenied("nope"))

	rec := sink.all()[0]
	if rec.Status != domain.CallStatusError || rec.ErrorType != "policy_denied" {
		t.Errorf("record = %+v", rec)
	}
	if rec.ErrorMessage != "policy_denied: nope" {
		t.Errorf("error message = %q", rec.ErrorMessage)
	}
}

func TestLogger_LogStream(t *testing.T) {
	sink := &recordingSink{}
	events := []domain.StreamEvent{
		{Type: domain.EventToolStart, Data: map[string]any{"tool_name": "add_number", "tool_call_id": "c1", "arguments": map[string]any{"a": 1}}},
		{Type: domain.EventToolEnd, Data: map[string]any{"tool_name": "add_number", "tool_call_id": "c1", "result": `{"result":3}`}},
		{Type: domain.EventMessageStart, Data: map[string]any{"model": "gpt-4o"}},
		{Type: domain.EventToken, Data: map[string]any{"text": "The "}},
		{Type: domain.EventToken, Data: map[string]any{"text": "answer "}},
		{Type: domain.EventToken, Data: map[string]any{"text": "is 3"}},
		{Type: domain.EventMessageEnd, Data: map[string]any{}},
	}
	New(sink).LogStream(context.Background(), testEntry(), events)

	rec := sink.all()[0]
	if !rec.Stream || rec.Status != domain.CallStatusSuccess {
		t.Fatalf("record = %+v", rec)
	}
	msg := rec.Output["message"].(map[string]any)
	if msg["content"] != "The answer is 3" {
		t.Errorf("content = %q", msg["content"])
	}
	calls := rec.Output["tool_calls"].([]ToolCallSummary)
	if len(calls) != 1 || calls[0].ToolName != "add_number" || calls[0].Result != `{"result":3}` {
		t.Errorf("tool calls = %+v", calls)
	}
}

func TestLogger_LogStreamErrorEvent(t *testing.T) {
	sink := &recordingSink{}
	New(sink).LogStream(context.Background(), testEntry(), []domain.StreamEvent{
		{Type: domain.EventMessageStart},
		{Type: domain.EventToken, Data: map[string]any{"text": "par"}},
		{Type: domain.EventError, Data: map[string]any{"message": "upstream reset", "error_type": "provider"}},
	})

	rec := sink.all()[0]
	if rec.Status != domain.CallStatusError || rec.ErrorMessage != "upstream reset" || rec.ErrorType != "provider" {
		t.Errorf("record = %+v", rec)
	}
}

func TestLogger_FallbackToMinimalRecord(t *testing.T) {
	tests := []struct {
		name string
		sink *recordingSink
	}{
		{"write error", &recordingSink{failFull: true}},
		{"sink panic", &recordingSink{panicFull: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			New(tt.sink).LogCall(context.Background(), testEntry(), &domain.ChatResponse{})

			recs := tt.sink.all()
			if len(recs) != 1 {
				t.Fatalf("records = %d, want exactly one minimal record", len(recs))
			}
			rec := recs[0]
			if rec.Status != domain.CallStatusLoggingFailed || rec.Model != "gpt-4o" || rec.Stream {
				t.Errorf("minimal record = %+v", rec)
			}
			if rec.Reason == "" || rec.Prompt != nil || rec.Output != nil {
				t.Errorf("minimal record should only carry primitives: %+v", rec)
			}
		})
	}
}

func TestLogger_MinimalFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{failFull: true, failMinimal: true}
	New(sink).LogError(context.Background(), testEntry(), errors.New("x"))

	if len(sink.all()) != 0 {
		t.Error("no record should be stored")
	}
	if len(sink.deadlines) != 2 {
		t.Errorf("write attempts = %d, want 2", len(sink.deadlines))
	}
}

func TestLogger_WriteDetachedFromCancelledContext(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	New(sink, WithWriteTimeout(time.Second)).LogCall(ctx, testEntry(), &domain.ChatResponse{})

	if len(sink.all()) != 1 {
		t.Fatal("record should be written after the caller went away")
	}
	if !sink.deadlines[0] {
		t.Error("write should carry the write timeout")
	}
}

func TestLogger_NilSink(t *testing.T) {
	New(nil).LogCall(context.Background(), testEntry(), nil)
	var l *Logger
	l.Write(context.Background(), &domain.CallLog{})
}
