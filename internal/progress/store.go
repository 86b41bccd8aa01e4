// Package progress implements the job progress registry: per-job
// percentage, stage, message and an append-only log trail. Two
// interchangeable backends exist — in-memory for direct mode and Redis
// for queue-backed mode — behind one contract, so the rest of the
// system is mode-agnostic.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/promoreel/promoreel-api/internal/generation"
)

// Static errors for progress operations.
var (
	// ErrJobExists is returned when CreateJob collides on a job id.
	ErrJobExists = errors.New("progress: job already exists")
	// ErrJobNotFound is returned when no progress exists for a job id.
	ErrJobNotFound = errors.New("progress: job not found")
)

// Mode identifies which backend the store runs on. Health checks use
// it to surface queue degradation; the contract is identical in both.
type Mode string

const (
	// ModeQueue is the durable, Redis-backed store used with the broker.
	ModeQueue Mode = "queue"
	// ModeDirect is the in-memory store used when the broker is
	// unreachable and jobs run in-process.
	ModeDirect Mode = "direct"
)

// Status is the coarse job state derived from progress.
type Status string

// Derived statuses.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// LogEntry is one line of the per-job log trail.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Progress is the full progress state of one job.
type Progress struct {
	JobID                     string           `json:"jobId"`
	Percentage                int              `json:"percentage"`
	Stage                     generation.Stage `json:"stage"`
	Message                   string           `json:"message"`
	EstimatedSecondsRemaining int              `json:"estimatedSecondsRemaining"`
	Logs                      []LogEntry       `json:"logs"`
	UpdatedAt                 time.Time        `json:"updatedAt"`
}

// Terminal returns true once the job reached an absorbing state; no
// further updates are applied after that.
func (p Progress) Terminal() bool {
	return p.Stage.IsTerminal() || p.Percentage >= 100
}

// Update is a partial progress update. Nil pointer fields and empty
// strings leave the current value unchanged; LogMessage appends to the
// log trail.
type Update struct {
	Percentage                *int
	Stage                     generation.Stage
	Message                   string
	EstimatedSecondsRemaining *int
	LogLevel                  string
	LogMessage                string
}

// Merge applies u to current and returns the next progress state.
// It is a pure function so the transition logic is testable without
// I/O; stores persist the result. The second return value is false
// when the update must be dropped (job already terminal).
// Percentage is monotonic: a lower value than the current one is
// ignored while the rest of the update still applies.
func Merge(current Progress, u Update, now time.Time) (Progress, bool) {
	if current.Terminal() {
		return current, false
	}

	next := current
	if u.Percentage != nil && *u.Percentage > next.Percentage {
		next.Percentage = *u.Percentage
		if next.Percentage > 100 {
			next.Percentage = 100
		}
	}
	if u.Stage != "" {
		next.Stage = u.Stage
	}
	if u.Message != "" {
		next.Message = u.Message
	}
	if u.EstimatedSecondsRemaining != nil {
		next.EstimatedSecondsRemaining = *u.EstimatedSecondsRemaining
	}
	if u.LogMessage != "" {
		level := u.LogLevel
		if level == "" {
			level = "info"
		}
		next.Logs = append(next.Logs, LogEntry{
			Timestamp: now,
			Level:     level,
			Message:   u.LogMessage,
		})
	}
	next.UpdatedAt = now
	return next, true
}

// DeriveStatus maps progress to the coarse status exposed over HTTP:
// a terminal stage wins, then percentage 100 means completed, any
// progress means processing, otherwise queued.
func DeriveStatus(p Progress) Status {
	switch p.Stage {
	case generation.StageFailed, generation.StageCancelled:
		return StatusFailed
	case generation.StageCompleted:
		return StatusCompleted
	}
	if p.Percentage >= 100 {
		return StatusCompleted
	}
	if p.Percentage > 0 {
		return StatusProcessing
	}
	return StatusQueued
}

// StatusInfo pairs the derived status with the full progress.
type StatusInfo struct {
	Status   Status   `json:"status"`
	Progress Progress `json:"progress"`
}

// Store is the progress registry contract, identical in both modes.
type Store interface {
	// CreateJob registers a new job. Fails with ErrJobExists on id
	// collision.
	CreateJob(ctx context.Context, jobID string, initial Progress) error

	// UpdateProgress merges a partial update into the job's state and
	// appends to the log trail. Unknown job ids are a logged no-op: a
	// late update after cleanup must not crash the caller.
	UpdateProgress(ctx context.Context, jobID string, update Update) error

	// GetProgress returns the job's full progress.
	// Fails with ErrJobNotFound for unknown ids.
	GetProgress(ctx context.Context, jobID string) (Progress, error)

	// GetStatus returns the derived coarse status plus progress.
	GetStatus(ctx context.Context, jobID string) (StatusInfo, error)

	// Cleanup removes jobs whose last update is older than maxAge and
	// returns how many were removed.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	// Mode reports which backend the store runs on.
	Mode() Mode
}
