package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/promoreel/promoreel-api/internal/generation"
)

// DirectDispatcher runs jobs in-process. It is the degraded strategy
// used when the broker cannot be reached: accepted jobs execute
// immediately in a goroutine and do not survive a process crash.
type DirectDispatcher struct {
	runner Runner
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active atomic.Int32
	closed atomic.Bool
}

// Compile-time check that DirectDispatcher implements Dispatcher.
var _ Dispatcher = (*DirectDispatcher)(nil)

// NewDirectDispatcher creates a dispatcher running jobs on runner.
func NewDirectDispatcher(runner Runner, logger *slog.Logger) *DirectDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DirectDispatcher{
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch starts the job in a goroutine. The job runs on the
// dispatcher's own context so it outlives the submitting HTTP request.
func (d *DirectDispatcher) Dispatch(_ context.Context, job *generation.Job) error {
	if d.closed.Load() {
		return ErrClosed
	}

	d.wg.Add(1)
	d.active.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.active.Add(-1)

		if err := d.runner.Run(d.ctx, job); err != nil {
			d.logger.Warn("direct job run failed",
				slog.String("job_id", job.ID()),
				slog.String("error", err.Error()),
			)
		}
	}()

	d.logger.Info("job dispatched in-process",
		slog.String("job_id", job.ID()),
	)
	return nil
}

// Stats reports the number of in-flight jobs.
func (d *DirectDispatcher) Stats(_ context.Context) (Stats, error) {
	return Stats{
		Mode:    ModeDirect,
		Pending: int(d.active.Load()),
	}, nil
}

// Mode reports the direct strategy.
func (d *DirectDispatcher) Mode() Mode {
	return ModeDirect
}

// Close stops accepting jobs, interrupts in-flight runs and waits for
// them to settle.
func (d *DirectDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()
	d.wg.Wait()
	return nil
}
