package videos

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for direct mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Video
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory video store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Video)}
}

// Create persists a new record.
func (s *MemoryStore) Create(_ context.Context, v *Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[v.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *v
	s.records[v.ID] = &cp
	return nil
}

// Get returns the record for the id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// SetProviderJob records the provider job id.
func (s *MemoryStore) SetProviderJob(_ context.Context, id, providerJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	v.ProviderJobID = providerJobID
	if v.Status == StatusPending {
		v.Status = StatusProcessing
	}
	return nil
}

// MarkCompleted finalizes a record with its output location.
func (s *MemoryStore) MarkCompleted(_ context.Context, id, outputRef string) error {
	return s.finalize(id, StatusCompleted, func(v *Video) {
		v.OutputRef = outputRef
	})
}

// MarkFailed finalizes a record with a failure reason.
func (s *MemoryStore) MarkFailed(_ context.Context, id, reason string) error {
	return s.finalize(id, StatusFailed, func(v *Video) {
		v.Error = reason
	})
}

// MarkCancelled finalizes a record as user-cancelled.
func (s *MemoryStore) MarkCancelled(_ context.Context, id string) error {
	return s.finalize(id, StatusCancelled, nil)
}

func (s *MemoryStore) finalize(id string, status Status, apply func(*Video)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if v.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	v.Status = status
	now := time.Now()
	v.GenerationEndedAt = &now
	if apply != nil {
		apply(v)
	}
	return nil
}

// ListProcessing returns processing records with a provider job id whose
// generation started at or after since.
func (s *MemoryStore) ListProcessing(_ context.Context, since time.Time) ([]*Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Video
	for _, v := range s.records {
		if v.Status == StatusProcessing && v.ProviderJobID != "" && !v.GenerationStartedAt.Before(since) {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListStuck returns non-terminal records whose generation started
// before olderThan.
func (s *MemoryStore) ListStuck(_ context.Context, olderThan time.Time) ([]*Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Video
	for _, v := range s.records {
		if !v.Status.IsTerminal() && v.GenerationStartedAt.Before(olderThan) {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}
