package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// ErrClosed is returned by WriteCallLog after Close.
var ErrClosed = errors.New("memory sink closed")

// Store keeps call logs in memory in write order.
type Store struct {
	mu     sync.RWMutex
	logs   []*domain.CallLog
	closed bool
}

var _ ports.CallLogSink = (*Store)(nil)

// New creates an empty in-memory sink.
func New() *Store {
	return &Store{}
}

func (s *Store) WriteCallLog(ctx context.Context, rec *domain.CallLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	cp := *rec
	s.logs = append(s.logs, &cp)
	return nil
}

// List returns a snapshot of every record in write order.
func (s *Store) List() []*domain.CallLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.CallLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// ByKind returns the records of one kind in write order.
func (s *Store) ByKind(kind domain.CallKind) []*domain.CallLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.CallLog
	for _, rec := range s.logs {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

// Reset drops every stored record.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
