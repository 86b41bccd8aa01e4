// Package queue decides how prepared jobs reach the pipeline. The
// primary path publishes to a durable RabbitMQ queue consumed by
// worker processes; when the broker is unreachable at startup the
// system degrades to direct mode and runs jobs in-process.
package queue

import (
	"context"
	"errors"

	"github.com/promoreel/promoreel-api/internal/generation"
)

// Static errors for queue operations.
var (
	// ErrClosed is returned when dispatching through a closed dispatcher.
	ErrClosed = errors.New("queue: dispatcher closed")
	// ErrBrokerUnavailable is returned when the broker cannot be reached
	// within the configured probe budget.
	ErrBrokerUnavailable = errors.New("queue: broker unavailable")
)

// Mode identifies the active dispatch strategy.
type Mode string

const (
	// ModeQueue dispatches through the durable broker.
	ModeQueue Mode = "queue"
	// ModeDirect runs jobs in-process.
	ModeDirect Mode = "direct"
)

// Stats is a point-in-time view of the dispatch backlog.
type Stats struct {
	Mode Mode `json:"mode"`
	// Pending is the number of messages waiting in the queue, or the
	// number of in-flight goroutines in direct mode.
	Pending int `json:"pending"`
	// Consumers is the number of attached workers (queue mode only).
	Consumers int `json:"consumers"`
}

// Runner executes a prepared job. The pipeline orchestrator is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, job *generation.Job) error
}

// Dispatcher hands prepared jobs to their executor.
type Dispatcher interface {
	// Dispatch submits a prepared job for execution.
	Dispatch(ctx context.Context, job *generation.Job) error

	// Stats reports the current backlog.
	Stats(ctx context.Context) (Stats, error)

	// Mode reports the active dispatch strategy.
	Mode() Mode

	// Close stops the dispatcher. Queue mode closes the broker
	// connection; direct mode waits for in-flight jobs.
	Close() error
}

// jobMessage is the wire format of one queued job. The request carries
// the job id; credits are already reserved at publish time.
type jobMessage struct {
	Request         generation.Request `json:"request"`
	CreditsReserved int64              `json:"creditsReserved"`
}
