// Package poller reconciles in-flight video records against the
// provider. The orchestrator normally observes completion itself; the
// poller is the safety net that settles jobs whose runner died, and
// sweeps abandoned records so reservations are always released.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/promoreel/promoreel-api/internal/videogen"
	"github.com/promoreel/promoreel-api/internal/videos"
)

var (
	polledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promoreel_poller_polled_total",
		Help: "Provider status checks performed by the poller.",
	})
	updatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promoreel_poller_updated_total",
		Help: "Video records the poller drove to a terminal state.",
	})
	errorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promoreel_poller_errors_total",
		Help: "Provider status checks that failed.",
	})
	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promoreel_poller_active_jobs",
		Help: "Processing records observed in the last poll cycle.",
	})
	lastPollTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promoreel_poller_last_poll_timestamp_seconds",
		Help: "Unix timestamp of the last completed poll cycle.",
	})
)

// Settler applies provider observations to video records. The pipeline
// orchestrator is the production implementation, so the poller settles
// jobs with the exact transitions the in-process run uses.
type Settler interface {
	SettleObservation(ctx context.Context, rec *videos.Video, status videogen.StatusResult) (bool, error)
	FailAbandoned(ctx context.Context, rec *videos.Video, reason string)
}

// Config holds the poller timing knobs.
type Config struct {
	// Interval is the poll cycle period.
	Interval time.Duration
	// FreshWindow bounds how old a processing record may be and still
	// be polled; older records are left for the sweep.
	FreshWindow time.Duration
	// Fanout caps concurrent provider status checks per cycle.
	Fanout int
	// SweepInterval is the reconciliation sweep period.
	SweepInterval time.Duration
	// StuckAfter is the hard ceiling after which a processing record is
	// declared abandoned.
	StuckAfter time.Duration
}

// Poller periodically checks in-flight provider jobs.
type Poller struct {
	videos   videos.Store
	videoGen videogen.Generator
	settler  Settler
	cfg      Config
	logger   *slog.Logger
}

// New creates a Poller.
func New(store videos.Store, gen videogen.Generator, settler Settler, cfg Config, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.FreshWindow <= 0 {
		cfg.FreshWindow = 5 * time.Minute
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 5
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	return &Poller{
		videos:   store,
		videoGen: gen,
		settler:  settler,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("fanout", p.cfg.Fanout),
	)

	poll := time.NewTicker(p.cfg.Interval)
	defer poll.Stop()
	sweep := time.NewTicker(p.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-poll.C:
			p.PollOnce(ctx)
		case <-sweep.C:
			p.SweepOnce(ctx)
		}
	}
}

// PollOnce runs a single poll cycle over the fresh processing records.
func (p *Poller) PollOnce(ctx context.Context) {
	since := time.Now().Add(-p.cfg.FreshWindow)
	records, err := p.videos.ListProcessing(ctx, since)
	if err != nil {
		p.logger.Error("failed to list processing videos",
			slog.String("error", err.Error()))
		errorsTotal.Inc()
		return
	}

	activeJobs.Set(float64(len(records)))
	if len(records) > 0 {
		p.logger.Debug("polling provider", slog.Int("jobs", len(records)))
	}

	sem := make(chan struct{}, p.cfg.Fanout)
	done := make(chan struct{})
	for _, rec := range records {
		sem <- struct{}{}
		go func(rec *videos.Video) {
			defer func() { <-sem; done <- struct{}{} }()
			p.check(ctx, rec)
		}(rec)
	}
	for range records {
		<-done
	}

	lastPollTimestamp.SetToCurrentTime()
}

func (p *Poller) check(ctx context.Context, rec *videos.Video) {
	polledTotal.Inc()

	status, err := p.videoGen.CheckStatus(ctx, rec.ProviderJobID)
	if err != nil {
		errorsTotal.Inc()
		p.logger.Warn("status check failed",
			slog.String("job_id", rec.ID),
			slog.String("provider_job_id", rec.ProviderJobID),
			slog.String("error", err.Error()),
		)
		return
	}

	settled, err := p.settler.SettleObservation(ctx, rec, status)
	if err != nil {
		errorsTotal.Inc()
		p.logger.Error("failed to settle observation",
			slog.String("job_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if settled {
		updatedTotal.Inc()
		p.logger.Info("job settled by poller",
			slog.String("job_id", rec.ID),
			slog.String("provider_status", string(status.Status)),
		)
	}
}

// SweepOnce fails every processing record older than the hard ceiling.
func (p *Poller) SweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.StuckAfter)
	records, err := p.videos.ListStuck(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to list stuck videos",
			slog.String("error", err.Error()))
		return
	}

	for _, rec := range records {
		p.settler.FailAbandoned(ctx, rec, "abandoned")
		updatedTotal.Inc()
		p.logger.Warn("abandoned job swept",
			slog.String("job_id", rec.ID),
			slog.String("user_id", rec.UserID),
			slog.Time("started_at", rec.GenerationStartedAt),
		)
	}
}
