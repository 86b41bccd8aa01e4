package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// keyPrefix namespaces progress documents in Redis.
const keyPrefix = "promoreel:progress:"

// RedisStore is the durable progress registry used in queue-backed
// mode: progress survives a process restart so workers can pick jobs
// back up. Documents are stored as JSON values. Per-job write ordering
// is guaranteed by the single-writer-per-job discipline upstream, so
// a read-merge-write cycle is safe here.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a progress store on an existing Redis client.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

// Mode reports the queue-backed backend.
func (s *RedisStore) Mode() Mode {
	return ModeQueue
}

func key(jobID string) string {
	return keyPrefix + jobID
}

// CreateJob registers a new job. SetNX gives the id-collision check.
func (s *RedisStore) CreateJob(ctx context.Context, jobID string, initial Progress) error {
	initial.JobID = jobID
	if initial.UpdatedAt.IsZero() {
		initial.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("progress: marshal: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key(jobID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("progress: create: %w", err)
	}
	if !ok {
		return ErrJobExists
	}
	return nil
}

// UpdateProgress merges a partial update into the job's state.
// Unknown job ids are a logged no-op.
func (s *RedisStore) UpdateProgress(ctx context.Context, jobID string, update Update) error {
	current, err := s.GetProgress(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		s.logger.Warn("progress update for unknown job dropped",
			slog.String("job_id", jobID),
		)
		return nil
	}
	if err != nil {
		return err
	}

	next, applied := Merge(current, update, time.Now().UTC())
	if !applied {
		return nil
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("progress: marshal: %w", err)
	}
	if err := s.client.Set(ctx, key(jobID), data, 0).Err(); err != nil {
		return fmt.Errorf("progress: update: %w", err)
	}
	return nil
}

// GetProgress returns the job's full progress.
func (s *RedisStore) GetProgress(ctx context.Context, jobID string) (Progress, error) {
	data, err := s.client.Get(ctx, key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Progress{}, ErrJobNotFound
	}
	if err != nil {
		return Progress{}, fmt.Errorf("progress: get: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, fmt.Errorf("progress: unmarshal: %w", err)
	}
	return p, nil
}

// GetStatus returns the derived coarse status plus progress.
func (s *RedisStore) GetStatus(ctx context.Context, jobID string) (StatusInfo, error) {
	p, err := s.GetProgress(ctx, jobID)
	if err != nil {
		return StatusInfo{}, err
	}
	return StatusInfo{Status: DeriveStatus(p), Progress: p}, nil
}

// Cleanup removes jobs whose last update is older than maxAge.
func (s *RedisStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("progress: cleanup get: %w", err)
		}

		var p Progress
		if err := json.Unmarshal(data, &p); err != nil {
			// Unreadable document: drop it rather than leak forever.
			s.logger.Warn("dropping unreadable progress document",
				slog.String("key", k),
				slog.String("error", err.Error()),
			)
			_ = s.client.Del(ctx, k).Err()
			removed++
			continue
		}
		if p.UpdatedAt.Before(cutoff) {
			if err := s.client.Del(ctx, k).Err(); err != nil {
				return removed, fmt.Errorf("progress: cleanup del: %w", err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("progress: cleanup scan: %w", err)
	}
	return removed, nil
}
