// Package calllog writes best-effort audit records of orchestrated calls.
// Nothing in this package ever returns an error to the caller.
package calllog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// DefaultWriteTimeout bounds a single sink write.
const DefaultWriteTimeout = 5 * time.Second

// Logger builds call logs and hands them to a sink.
type Logger struct {
	sink    ports.CallLogSink
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithWriteTimeout bounds every sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets the structured logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Logger. A nil sink disables call logging.
func New(sink ports.CallLogSink, opts ...Option) *Logger {
	l := &Logger{
		sink:    sink,
		timeout: DefaultWriteTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Entry describes the call being logged.
type Entry struct {
	Kind       domain.CallKind
	PipelineID string
	Request    *domain.ChatRequest
	Model      string
	Stream     bool
	Duration   time.Duration
	Attempts   int

	// Usage overrides the usage found on the response.
	Usage *domain.Usage
}

// LogCall records a successful non-streaming call with its full response.
func (l *Logger) LogCall(ctx context.Context, e Entry, resp *domain.ChatResponse) {
	rec := l.base(e)
	rec.Status = domain.CallStatusSuccess
	if resp != nil {
		rec.Output = map[string]any{
			"message":  resp.Message,
			"model":    resp.Model,
			"metadata": resp.Metadata,
		}
		if rec.Usage == nil {
			rec.Usage = resp.Usage
		}
	}
	l.Write(ctx, rec)
}

// LogStream records a finished stream by replaying its events. A stream that
// ended with an error event is recorded as an error.
func (l *Logger) LogStream(ctx context.Context, e Entry, events []domain.StreamEvent) {
	rec := l.base(e)
	rec.Stream = true
	rec.Status = domain.CallStatusSuccess

	a := Assemble(events)
	rec.Output = a.Output()
	if a.Err != "" {
		rec.Status = domain.CallStatusError
		rec.ErrorType = a.ErrType
		rec.ErrorMessage = a.Err
	}
	l.Write(ctx, rec)
}

// LogError records a failed call.
func (l *Logger) LogError(ctx context.Context, e Entry, err error) {
	rec := l.base(e)
	rec.Status = domain.CallStatusError
	if err != nil {
		rec.ErrorType = domain.ErrorType(err)
		rec.ErrorMessage = err.Error()
	}
	l.Write(ctx, rec)
}

func (l *Logger) base(e Entry) *domain.CallLog {
	rec := &domain.CallLog{
		Kind:       e.Kind,
		PipelineID: e.PipelineID,
		Model:      e.Model,
		Stream:     e.Stream,
		Usage:      e.Usage,
		Attempts:   e.Attempts,
		Duration:   e.Duration,
	}
	if rec.Kind == "" {
		rec.Kind = domain.CallKindRequest
	}
	if req := e.Request; req != nil {
		rec.Prompt = append([]domain.Message(nil), req.Messages...)
		if rec.Model == "" {
			rec.Model = req.Model
		}
		if rc := req.Context; rc != nil {
			rec.RunID = rc.RunID
			rec.TraceID = rc.TraceID
			rec.UserID = rc.UserID
			rec.ConversationID = rc.ConversationID
		}
	}
	return rec
}

// Write persists rec. When that fails a minimal record is written instead,
// and a failure of the minimal write is dropped.
func (l *Logger) Write(ctx context.Context, rec *domain.CallLog) {
	if l == nil || l.sink == nil || rec == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = "call_" + uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	err := l.write(ctx, rec)
	if err == nil {
		return
	}
	l.logger.Warn("call log write failed",
		slog.String("call_id", rec.ID),
		slog.String("model", rec.Model),
		slog.String("error", err.Error()))

	minimal := &domain.CallLog{
		ID:        "call_" + uuid.New().String(),
		Kind:      rec.Kind,
		Model:     rec.Model,
		Stream:    rec.Stream,
		Status:    domain.CallStatusLoggingFailed,
		Reason:    truncate("log write failed: "+err.Error(), 500),
		CreatedAt: time.Now().UTC(),
	}
	if minimal.Model == "" {
		minimal.Model = "unknown"
	}
	if err := l.write(ctx, minimal); err != nil {
		l.logger.Debug("minimal call log write failed", slog.String("error", err.Error()))
	}
}

// write runs one sink write on a context detached from the request, so a
// disconnected caller does not drop the record.
func (l *Logger) write(ctx context.Context, rec *domain.CallLog) (err error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return l.sink.WriteCallLog(writeCtx, rec)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
