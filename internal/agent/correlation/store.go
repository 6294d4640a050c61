package correlation

import (
	"context"
	"sync"
	"time"

	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
)

// InMemoryStore is the single-process correlation store.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[id.CorrelationID]*Record
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.CorrelationID]*Record)}
}

// Register stores a new correlation. Reusing an id returns sentinel.ErrConflict.
func (s *InMemoryStore) Register(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.CorrelationID]; ok {
		return sentinel.ErrConflict
	}
	rec.Resolved = false
	rec.ResolvedAt = nil
	s.records[rec.CorrelationID] = &rec
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, correlationID id.CorrelationID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[correlationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *rec
	return &out, nil
}

// MarkResolved flips the record to resolved. first is false when another
// caller already resolved it.
func (s *InMemoryStore) MarkResolved(_ context.Context, correlationID id.CorrelationID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[correlationID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if rec.Resolved {
		return false, nil
	}
	resolvedAt := at
	rec.Resolved = true
	rec.ResolvedAt = &resolvedAt
	return true, nil
}

// Release undoes MarkResolved after a failed delivery so the provider may retry.
func (s *InMemoryStore) Release(_ context.Context, correlationID id.CorrelationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[correlationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.Resolved = false
	rec.ResolvedAt = nil
	return nil
}
