package service

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tjfontaine/polyglot-orchestrator/internal/calllog"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/model"
	"github.com/tjfontaine/polyglot-orchestrator/internal/pipeline"
	"github.com/tjfontaine/polyglot-orchestrator/internal/policy"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/memory"
	"github.com/tjfontaine/polyglot-orchestrator/internal/testutil"
	"github.com/tjfontaine/polyglot-orchestrator/internal/tool"
)

type fixture struct {
	svc   *Service
	model *testutil.ScriptedModel
	sink  *memory.Store
}

func newFixture(t *testing.T, m *testutil.ScriptedModel, opts ...Option) *fixture {
	t.Helper()
	models := model.NewRegistry()
	if err := models.Register("test/", func(string) (ports.ChatModel, error) { return m, nil }); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	pipelines := pipeline.NewRegistry()
	_ = pipelines.Register(pipeline.NewToolLoop(models, tool.NewRegistry()))
	_ = pipelines.Register(&batchOnly{})

	sink := memory.New()
	base := []Option{
		WithPolicy(policy.NewResolver([]string{"test/a", "test/b"}, "test/a")),
		WithPipelines(pipelines),
		WithCallLog(calllog.New(sink)),
		WithMaxConcurrentStreams(4),
	}
	svc, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{svc: svc, model: m, sink: sink}
}

// batchOnly is a pipeline without the streaming capability.
type batchOnly struct {
	mu    sync.Mutex
	calls int
}

func (b *batchOnly) ID() string                       { return "batch" }
func (b *batchOnly) Capabilities() ports.Capabilities { return nil }

func (b *batchOnly) Run(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return testutil.TextResponse(req.Model, "batch"), nil
}

func (b *batchOnly) Stream(ctx context.Context, req *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return testutil.TokenStream(req.Model, "batch")
}

func userRequest() *domain.ChatRequest {
	return &domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}}
}

func TestService_Run(t *testing.T) {
	f := newFixture(t, &testutil.ScriptedModel{})
	req := userRequest()

	resp, err := f.svc.Run(context.Background(), pipeline.ToolLoopID, req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("content = %q, want ok", resp.Message.Content)
	}

	sent := f.model.Requests()[0]
	if sent.Model != "test/a" {
		t.Errorf("model = %q, want default test/a", sent.Model)
	}
	if sent.Context == nil || sent.Context.RunID == "" {
		t.Error("run context was not attached")
	}
	if req.Model != "" || req.Context != nil {
		t.Error("caller's request was modified")
	}

	logs := f.sink.List()
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	rec := logs[0]
	if rec.Kind != domain.CallKindRequest || rec.Status != domain.CallStatusSuccess {
		t.Errorf("log kind/status = %s/%s", rec.Kind, rec.Status)
	}
	if rec.PipelineID != pipeline.ToolLoopID || rec.Model != "test/a" || rec.RunID != sent.Context.RunID {
		t.Errorf("log = %+v", rec)
	}
}

func TestService_Run_Errors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name       string
		opts       []Option
		pipelineID string
		req        *domain.ChatRequest
		generate   func(int, *domain.ChatRequest) (*domain.ChatResponse, error)
		wantKind   domain.ErrorKind
		wantCause  error
	}{
		{
			name:       "model not allowed",
			pipelineID: pipeline.ToolLoopID,
			req:        &domain.ChatRequest{Model: "test/z"},
			wantKind:   domain.KindPolicyDenied,
		},
		{
			name:       "empty allow-list",
			opts:       []Option{WithPolicy(policy.NewResolver(nil, ""))},
			pipelineID: pipeline.ToolLoopID,
			req:        userRequest(),
			wantKind:   domain.KindConfiguration,
		},
		{
			name:       "unknown pipeline",
			pipelineID: "nope",
			req:        userRequest(),
			wantKind:   domain.KindConfiguration,
		},
		{
			name:       "streaming against batch pipeline",
			pipelineID: "batch",
			req:        &domain.ChatRequest{Stream: true},
			wantKind:   domain.KindPolicyDenied,
		},
		{
			name:       "unexpected error is wrapped",
			pipelineID: pipeline.ToolLoopID,
			req:        userRequest(),
			generate: func(int, *domain.ChatRequest) (*domain.ChatResponse, error) {
				return nil, boom
			},
			wantKind:  domain.KindProvider,
			wantCause: boom,
		},
		{
			name:       "known error passes through",
			pipelineID: pipeline.ToolLoopID,
			req:        userRequest(),
			generate: func(int, *domain.ChatRequest) (*domain.ChatResponse, error) {
				return nil, domain.ErrInvalidRequest("bad")
			},
			wantKind: domain.KindInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &testutil.ScriptedModel{GenerateFunc: tt.generate}, tt.opts...)

			_, err := f.svc.Run(context.Background(), tt.pipelineID, tt.req)
			if !domain.IsKind(err, tt.wantKind) {
				t.Fatalf("Run() error = %v, want kind %s", err, tt.wantKind)
			}
			if tt.wantCause != nil && !errors.Is(err, tt.wantCause) {
				t.Errorf("Run() error = %v, want cause %v", err, tt.wantCause)
			}

			logs := f.sink.List()
			if len(logs) != 1 || logs[0].Status != domain.CallStatusError {
				t.Fatalf("logs = %+v, want one error record", logs)
			}
			if logs[0].ErrorType != string(tt.wantKind) {
				t.Errorf("ErrorType = %q, want %q", logs[0].ErrorType, tt.wantKind)
			}
		})
	}
}

func TestService_Stream_NonStreamingPipeline(t *testing.T) {
	f := newFixture(t, &testutil.ScriptedModel{})

	_, err := testutil.Collect(f.svc.Stream(context.Background(), "batch", userRequest()))
	if !domain.IsKind(err, domain.KindPolicyDenied) {
		t.Fatalf("Stream() error = %v, want policy_denied", err)
	}

	p, _ := pipelineFor(t, f, "batch")
	if p.calls != 0 {
		t.Errorf("pipeline invoked %d times, want 0", p.calls)
	}
}

func pipelineFor(t *testing.T, f *fixture, id string) (*batchOnly, bool) {
	t.Helper()
	p, err := f.svc.pipelines.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve(%s) error = %v", id, err)
	}
	b, ok := p.(*batchOnly)
	return b, ok
}

func TestService_Stream(t *testing.T) {
	f := newFixture(t, &testutil.ScriptedModel{
		StreamFunc: func(int, *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
			return testutil.TokenStream("test/b", "Hel", "lo")
		},
	})
	req := userRequest()
	req.Model = "test/b"

	events, err := testutil.Collect(f.svc.Stream(context.Background(), pipeline.ToolLoopID, req))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	for i, ev := range events {
		if ev.Sequence != i+1 {
			t.Errorf("events[%d].Sequence = %d", i, ev.Sequence)
		}
	}

	logs := f.sink.List()
	if len(logs) != 1 || !logs[0].Stream || logs[0].Status != domain.CallStatusSuccess {
		t.Fatalf("logs = %+v, want one streamed success", logs)
	}
	msg := logs[0].Output["message"].(map[string]any)
	if msg["content"] != "Hello" {
		t.Errorf("logged content = %v, want Hello", msg["content"])
	}
}

func TestService_Stream_WrapsFailure(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, &testutil.ScriptedModel{
		StreamFunc: func(int, *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
			return testutil.FailingStream(boom)
		},
	})

	_, err := testutil.Collect(f.svc.Stream(context.Background(), pipeline.ToolLoopID, userRequest()))
	if !domain.IsKind(err, domain.KindProvider) || !errors.Is(err, boom) {
		t.Fatalf("Stream() error = %v, want provider error wrapping boom", err)
	}
	if logs := f.sink.List(); len(logs) != 1 || logs[0].Status != domain.CallStatusError {
		t.Errorf("logs = %+v, want one error record", logs)
	}
}

// flakySink fails every full record and accepts minimal ones.
type flakySink struct {
	memory.Store
}

func (s *flakySink) WriteCallLog(ctx context.Context, rec *domain.CallLog) error {
	if rec.Status != domain.CallStatusLoggingFailed {
		return errors.New("disk full")
	}
	return s.Store.WriteCallLog(ctx, rec)
}

func TestService_LoggingFailureDoesNotAffectResult(t *testing.T) {
	sink := &flakySink{}
	f := newFixture(t, &testutil.ScriptedModel{}, WithCallLog(calllog.New(sink)))

	resp, err := f.svc.Run(context.Background(), pipeline.ToolLoopID, userRequest())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("content = %q, want ok", resp.Message.Content)
	}

	events, err := testutil.Collect(f.svc.Stream(context.Background(), pipeline.ToolLoopID, userRequest()))
	if err != nil || len(events) != 3 {
		t.Fatalf("Stream() = %d events, %v", len(events), err)
	}

	logs := sink.List()
	if len(logs) != 2 {
		t.Fatalf("minimal records = %d, want one per call", len(logs))
	}
	for _, rec := range logs {
		if rec.Status != domain.CallStatusLoggingFailed || rec.Model != "test/a" {
			t.Errorf("minimal record = %+v", rec)
		}
	}
	if !logs[1].Stream {
		t.Error("minimal record for stream lost the stream flag")
	}
}

func TestService_AStream(t *testing.T) {
	f := newFixture(t, &testutil.ScriptedModel{
		StreamFunc: func(int, *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
			return testutil.TokenStream("test/a", "a", "b", "c")
		},
	})
	ctx := context.Background()

	es, err := f.svc.AStream(ctx, pipeline.ToolLoopID, userRequest())
	if err != nil {
		t.Fatalf("AStream() error = %v", err)
	}
	defer es.Close()

	var got []domain.StreamEvent
	for {
		ev, err := es.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 5 {
		t.Fatalf("events = %d, want 5", len(got))
	}
	for i, ev := range got {
		if ev.Sequence != i+1 {
			t.Errorf("events[%d].Sequence = %d, want %d", i, ev.Sequence, i+1)
		}
	}
	if _, err := es.Next(ctx); err != io.EOF {
		t.Errorf("Next() after end = %v, want io.EOF", err)
	}
}

func TestService_AStream_Failure(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, &testutil.ScriptedModel{
		StreamFunc: func(int, *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
			return testutil.FailingStream(boom)
		},
	})
	ctx := context.Background()

	es, err := f.svc.AStream(ctx, pipeline.ToolLoopID, userRequest())
	if err != nil {
		t.Fatalf("AStream() error = %v", err)
	}
	_, err = es.Next(ctx)
	if !errors.Is(err, boom) || !domain.IsKind(err, domain.KindProvider) {
		t.Fatalf("Next() error = %v, want provider error wrapping boom", err)
	}
	if _, err := es.Next(ctx); err != io.EOF {
		t.Errorf("Next() after failure = %v, want io.EOF", err)
	}
}

func TestService_AStream_Semaphore(t *testing.T) {
	const delay = 50 * time.Millisecond
	f := newFixture(t, &testutil.ScriptedModel{Delay: delay}, WithMaxConcurrentStreams(2))
	ctx := context.Background()

	drain := func() error {
		es, err := f.svc.AStream(ctx, pipeline.ToolLoopID, userRequest())
		if err != nil {
			return err
		}
		for {
			if _, err := es.Next(ctx); err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
		}
	}

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- drain()
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("stream error = %v", err)
		}
	}
	if elapsed < 2*delay {
		t.Errorf("3 streams with limit 2 took %v, want at least %v", elapsed, 2*delay)
	}
}

func TestService_AStream_AdmissionHonorsContext(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	if !sem.TryAcquire(1) {
		t.Fatal("TryAcquire() failed")
	}
	f := newFixture(t, &testutil.ScriptedModel{}, WithSemaphore(sem))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := f.svc.AStream(ctx, pipeline.ToolLoopID, userRequest()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("AStream() error = %v, want deadline exceeded", err)
	}
	if f.model.StreamCalls() != 0 {
		t.Error("model called without a permit")
	}
}

func TestService_AStream_CloseDoesNotCancelWorker(t *testing.T) {
	texts := make([]string, 100)
	for i := range texts {
		texts[i] = "x"
	}
	f := newFixture(t, &testutil.ScriptedModel{
		StreamFunc: func(int, *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
			return testutil.TokenStream("test/a", texts...)
		},
	}, WithStreamBuffer(1), WithMaxConcurrentStreams(1))

	ctx, cancel := context.WithCancel(context.Background())
	es, err := f.svc.AStream(ctx, pipeline.ToolLoopID, userRequest())
	if err != nil {
		t.Fatalf("AStream() error = %v", err)
	}
	if _, err := es.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	cancel()
	es.Close()

	select {
	case <-es.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish after Close")
	}

	logs := f.sink.List()
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if n := logs[0].Output["event_count"]; n != 102 {
		t.Errorf("worker processed %v events, want all 102", n)
	}

	// The permit was released.
	if _, err := f.svc.AStream(context.Background(), pipeline.ToolLoopID, userRequest()); err != nil {
		t.Errorf("AStream() after Close error = %v", err)
	}
}

func TestService_AStream_ContextEndReleasesPermit(t *testing.T) {
	texts := make([]string, 100)
	for i := range texts {
		texts[i] = "x"
	}
	newService := func() *fixture {
		return newFixture(t, &testutil.ScriptedModel{
			StreamFunc: func(int, *domain.ChatRequest) iter.Seq2[domain.StreamEvent, error] {
				return testutil.TokenStream("test/a", texts...)
			},
		}, WithStreamBuffer(1), WithMaxConcurrentStreams(1))
	}

	tests := []struct {
		name    string
		abandon func(ctx context.Context, cancel context.CancelFunc, es *EventStream)
	}{
		{
			name: "admission context ends",
			abandon: func(ctx context.Context, cancel context.CancelFunc, es *EventStream) {
				cancel()
			},
		},
		{
			name: "next context ends",
			abandon: func(ctx context.Context, cancel context.CancelFunc, es *EventStream) {
				done, stop := context.WithCancel(context.Background())
				stop()
				if _, err := es.Next(done); !errors.Is(err, context.Canceled) {
					t.Errorf("Next() error = %v, want canceled", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newService()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			es, err := f.svc.AStream(ctx, pipeline.ToolLoopID, userRequest())
			if err != nil {
				t.Fatalf("AStream() error = %v", err)
			}
			if _, err := es.Next(context.Background()); err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			// The consumer stops reading and never calls Close.
			tt.abandon(ctx, cancel, es)

			select {
			case <-es.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("worker stayed blocked on a consumer that went away")
			}
			next, err := f.svc.AStream(context.Background(), pipeline.ToolLoopID, userRequest())
			if err != nil {
				t.Fatalf("AStream() after abandonment error = %v", err)
			}
			next.Close()
		})
	}
}

func TestService_ARun(t *testing.T) {
	f := newFixture(t, &testutil.ScriptedModel{})

	fut := f.svc.ARun(context.Background(), pipeline.ToolLoopID, userRequest())
	resp, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("content = %q, want ok", resp.Message.Content)
	}
	select {
	case <-fut.Done():
	default:
		t.Error("Done() not closed after Wait returned")
	}
}

func TestNew_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"nil policy", WithPolicy(nil)},
		{"zero streams", WithMaxConcurrentStreams(0)},
		{"zero buffer", WithStreamBuffer(0)},
		{"nil semaphore", WithSemaphore(nil)},
	}
	for _, tt := range tests {
		if _, err := New(tt.opt); err == nil {
			t.Errorf("%s: New() error = nil", tt.name)
		}
	}
}
