package service

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

const (
	// DefaultMaxConcurrentStreams bounds in-flight AStream calls.
	DefaultMaxConcurrentStreams = 20

	// DefaultStreamBuffer is the capacity of each AStream hand-off channel.
	DefaultStreamBuffer = 32
)

// DefaultSemaphore returns the process-wide stream semaphore.
var DefaultSemaphore = sync.OnceValue(func() *semaphore.Weighted {
	return semaphore.NewWeighted(DefaultMaxConcurrentStreams)
})

type streamItem struct {
	event domain.StreamEvent
	err   error
}

// EventStream delivers the events of one AStream call in order.
type EventStream struct {
	ch        chan streamItem
	abandoned chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Next blocks until the next event is available. It returns io.EOF after
// the last event, and the stream's failure once if it failed. When ctx ends
// the stream is abandoned as if Close had been called.
func (s *EventStream) Next(ctx context.Context) (domain.StreamEvent, error) {
	if s.err != nil {
		return domain.StreamEvent{}, s.err
	}
	select {
	case <-ctx.Done():
		s.Close()
		return domain.StreamEvent{}, ctx.Err()
	case item, ok := <-s.ch:
		if !ok {
			s.err = io.EOF
			return domain.StreamEvent{}, io.EOF
		}
		if item.err != nil {
			s.err = io.EOF
			return domain.StreamEvent{}, item.err
		}
		return item.event, nil
	}
}

// Close abandons the stream. The worker keeps running the underlying call
// to completion and discards what it produces.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() { close(s.abandoned) })
	return nil
}

// Done is closed when the worker has finished and released its permit.
func (s *EventStream) Done() <-chan struct{} {
	return s.done
}

// AStream acquires a stream permit, blocking until one is free or ctx ends,
// then runs Stream on a dedicated worker. The worker is detached from ctx:
// once admitted, the call runs to completion even if the consumer goes away.
//
// The worker holds its permit until it has handed off or discarded every
// event, so a consumer that stops calling Next must call Close. The end of
// ctx, or of a ctx passed to Next, also abandons the stream.
func (s *Service) AStream(ctx context.Context, pipelineID string, req *domain.ChatRequest) (*EventStream, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	es := &EventStream{
		ch:        make(chan streamItem, s.buffer),
		abandoned: make(chan struct{}),
		done:      make(chan struct{}),
	}
	workerCtx := context.WithoutCancel(ctx)
	stop := context.AfterFunc(ctx, func() { es.Close() })

	go func() {
		defer close(es.done)
		defer s.sem.Release(1)
		defer stop()
		defer close(es.ch)

		for ev, err := range s.Stream(workerCtx, pipelineID, req) {
			es.send(streamItem{event: ev, err: err})
		}
	}()
	return es, nil
}

// send hands item to the consumer unless the stream was abandoned.
func (s *EventStream) send(item streamItem) {
	select {
	case <-s.abandoned:
		return
	default:
	}
	select {
	case s.ch <- item:
	case <-s.abandoned:
	}
}

// Future is the pending result of an ARun call.
type Future struct {
	done chan struct{}
	resp *domain.ChatResponse
	err  error
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends. The call itself
// is not cancelled when ctx ends.
func (f *Future) Wait(ctx context.Context) (*domain.ChatResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.resp, f.err
	}
}

// ARun runs req on its own goroutine and returns immediately.
func (s *Service) ARun(ctx context.Context, pipelineID string, req *domain.ChatRequest) *Future {
	f := &Future{done: make(chan struct{})}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(f.done)
		f.resp, f.err = s.Run(runCtx, pipelineID, req)
	}()
	return f
}
