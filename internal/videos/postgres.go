package videos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists video records in Postgres. Terminal updates
// use a conditional UPDATE so concurrent finalizers (pipeline, poller,
// cancellation) cannot overwrite each other; the first writer wins.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the videos table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS videos (
			id                    TEXT PRIMARY KEY,
			user_id               TEXT NOT NULL,
			status                TEXT NOT NULL,
			provider_job_id       TEXT NOT NULL DEFAULT '',
			output_ref            TEXT NOT NULL DEFAULT '',
			credit_cost           BIGINT NOT NULL DEFAULT 0,
			error                 TEXT NOT NULL DEFAULT '',
			generation_started_at TIMESTAMPTZ NOT NULL,
			generation_ended_at   TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_videos_user
			ON videos (user_id, generation_started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_videos_processing
			ON videos (generation_started_at) WHERE status = 'processing';
	`)
	if err != nil {
		return fmt.Errorf("videos: ensure schema: %w", err)
	}
	return nil
}

// Create persists a new record.
func (s *PostgresStore) Create(ctx context.Context, v *Video) error {
	if v.GenerationStartedAt.IsZero() {
		v.GenerationStartedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO videos
			(id, user_id, status, provider_job_id, output_ref, credit_cost, error, generation_started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		v.ID, v.UserID, v.Status, v.ProviderJobID, v.OutputRef,
		v.CreditCost, v.Error, v.GenerationStartedAt,
	)
	if err != nil {
		return fmt.Errorf("videos: insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Get returns the record for the id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Video, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, provider_job_id, output_ref, credit_cost, error,
			generation_started_at, generation_ended_at
		FROM videos WHERE id = $1`, id)

	v, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("videos: query: %w", err)
	}
	return v, nil
}

// SetProviderJob records the provider job id and promotes pending
// records to processing.
func (s *PostgresStore) SetProviderJob(ctx context.Context, id, providerJobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE videos
		SET provider_job_id = $2,
			status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END
		WHERE id = $1`,
		id, providerJobID,
	)
	if err != nil {
		return fmt.Errorf("videos: set provider job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted finalizes a record with its output location.
func (s *PostgresStore) MarkCompleted(ctx context.Context, id, outputRef string) error {
	return s.finalize(ctx, id, `
		UPDATE videos
		SET status = 'completed', output_ref = $2, generation_ended_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, outputRef)
}

// MarkFailed finalizes a record with a failure reason.
func (s *PostgresStore) MarkFailed(ctx context.Context, id, reason string) error {
	return s.finalize(ctx, id, `
		UPDATE videos
		SET status = 'failed', error = $2, generation_ended_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, reason)
}

// MarkCancelled finalizes a record as user-cancelled.
func (s *PostgresStore) MarkCancelled(ctx context.Context, id string) error {
	return s.finalize(ctx, id, `
		UPDATE videos
		SET status = 'cancelled', generation_ended_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id)
}

func (s *PostgresStore) finalize(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("videos: finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already-terminal.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("videos: finalize check: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyTerminal
	}
	return nil
}

// ListProcessing returns processing records with a provider job id whose
// generation started at or after since.
func (s *PostgresStore) ListProcessing(ctx context.Context, since time.Time) ([]*Video, error) {
	return s.list(ctx, `
		SELECT id, user_id, status, provider_job_id, output_ref, credit_cost, error,
			generation_started_at, generation_ended_at
		FROM videos
		WHERE status = 'processing' AND provider_job_id <> '' AND generation_started_at >= $1
		ORDER BY generation_started_at ASC`, since)
}

// ListStuck returns non-terminal records whose generation started
// before olderThan.
func (s *PostgresStore) ListStuck(ctx context.Context, olderThan time.Time) ([]*Video, error) {
	return s.list(ctx, `
		SELECT id, user_id, status, provider_job_id, output_ref, credit_cost, error,
			generation_started_at, generation_ended_at
		FROM videos
		WHERE status IN ('pending', 'processing') AND generation_started_at < $1
		ORDER BY generation_started_at ASC`, olderThan)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Video, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("videos: list: %w", err)
	}
	defer rows.Close()

	var out []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("videos: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("videos: list rows: %w", err)
	}
	return out, nil
}

// scanVideo reads one video from a row.
func scanVideo(row pgx.Row) (*Video, error) {
	var (
		v     Video
		ended sql.NullTime
	)
	err := row.Scan(&v.ID, &v.UserID, &v.Status, &v.ProviderJobID, &v.OutputRef,
		&v.CreditCost, &v.Error, &v.GenerationStartedAt, &ended)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		v.GenerationEndedAt = &t
	}
	return &v, nil
}
