// Package videos persists the durable Video record: the mirror of a
// generation job that survives process restarts and is queried by the
// status poller and the HTTP API.
package videos

import (
	"context"
	"errors"
	"time"
)

// Static errors for video store operations.
var (
	// ErrNotFound is returned when no video exists for the id.
	ErrNotFound = errors.New("videos: not found")
	// ErrAlreadyExists is returned when Create collides on an id.
	ErrAlreadyExists = errors.New("videos: already exists")
	// ErrAlreadyTerminal is returned when a terminal record would be
	// overwritten. Terminal records are immutable; the first writer
	// wins and later reconciliation passes treat this as a no-op.
	ErrAlreadyTerminal = errors.New("videos: record already terminal")
)

// Status is the durable video lifecycle state.
type Status string

// Video statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal returns true once the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Video is the durable record of one generation job.
type Video struct {
	// ID equals the generation job id.
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Status Status `json:"status"`
	// ProviderJobID correlates with the external generation job.
	ProviderJobID string `json:"providerJobId,omitempty"`
	// OutputRef is the final video location once completed.
	OutputRef string `json:"outputRef,omitempty"`
	// CreditCost is the reservation debited for this job.
	CreditCost          int64      `json:"creditCost"`
	GenerationStartedAt time.Time  `json:"generationStartedAt"`
	GenerationEndedAt   *time.Time `json:"generationEndedAt,omitempty"`
	Error               string     `json:"error,omitempty"`
}

// Store is the persistence port for video records.
type Store interface {
	// Create persists a new record. Fails with ErrAlreadyExists on
	// id collision.
	Create(ctx context.Context, v *Video) error

	// Get returns the record for the id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Video, error)

	// SetProviderJob records the provider job id once submission is
	// acknowledged.
	SetProviderJob(ctx context.Context, id, providerJobID string) error

	// MarkCompleted finalizes a record with its output location.
	// Fails with ErrAlreadyTerminal if another writer finished first.
	MarkCompleted(ctx context.Context, id, outputRef string) error

	// MarkFailed finalizes a record with a failure reason.
	// Fails with ErrAlreadyTerminal if another writer finished first.
	MarkFailed(ctx context.Context, id, reason string) error

	// MarkCancelled finalizes a record as user-cancelled.
	// Fails with ErrAlreadyTerminal if another writer finished first.
	MarkCancelled(ctx context.Context, id string) error

	// ListProcessing returns processing records with a provider job id
	// whose generation started at or after since. This is the status
	// poller's hot scan.
	ListProcessing(ctx context.Context, since time.Time) ([]*Video, error)

	// ListStuck returns non-terminal records whose generation started
	// before olderThan, including pending ones that never reached the
	// provider. Used by the reconciliation sweep.
	ListStuck(ctx context.Context, olderThan time.Time) ([]*Video, error)
}
