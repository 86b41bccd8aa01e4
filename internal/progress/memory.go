package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is the in-memory progress registry used in direct mode.
// A RWMutex guards the map; per-job write ordering is guaranteed by
// the single-writer-per-job discipline upstream.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]Progress
	logger *slog.Logger
}

// NewMemoryStore creates an empty in-memory progress store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		jobs:   make(map[string]Progress),
		logger: logger,
	}
}

// Mode reports the direct backend.
func (s *MemoryStore) Mode() Mode {
	return ModeDirect
}

// CreateJob registers a new job.
func (s *MemoryStore) CreateJob(_ context.Context, jobID string, initial Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; ok {
		return ErrJobExists
	}
	initial.JobID = jobID
	if initial.UpdatedAt.IsZero() {
		initial.UpdatedAt = time.Now().UTC()
	}
	s.jobs[jobID] = initial
	return nil
}

// UpdateProgress merges a partial update into the job's state.
// Unknown job ids are a logged no-op.
func (s *MemoryStore) UpdateProgress(_ context.Context, jobID string, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[jobID]
	if !ok {
		s.logger.Warn("progress update for unknown job dropped",
			slog.String("job_id", jobID),
		)
		return nil
	}

	next, applied := Merge(current, update, time.Now().UTC())
	if !applied {
		return nil
	}
	s.jobs[jobID] = next
	return nil
}

// GetProgress returns the job's full progress.
func (s *MemoryStore) GetProgress(_ context.Context, jobID string) (Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.jobs[jobID]
	if !ok {
		return Progress{}, ErrJobNotFound
	}
	// Copy the log slice so callers cannot mutate stored state.
	logs := make([]LogEntry, len(p.Logs))
	copy(logs, p.Logs)
	p.Logs = logs
	return p, nil
}

// GetStatus returns the derived coarse status plus progress.
func (s *MemoryStore) GetStatus(ctx context.Context, jobID string) (StatusInfo, error) {
	p, err := s.GetProgress(ctx, jobID)
	if err != nil {
		return StatusInfo{}, err
	}
	return StatusInfo{Status: DeriveStatus(p), Progress: p}, nil
}

// Cleanup removes jobs whose last update is older than maxAge.
func (s *MemoryStore) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for jobID, p := range s.jobs {
		if p.UpdatedAt.Before(cutoff) {
			delete(s.jobs, jobID)
			removed++
		}
	}
	return removed, nil
}
