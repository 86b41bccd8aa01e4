// Package bootstrap provides dependency initialization for the
// PromoReel API and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/promoreel/promoreel-api/internal/config"
	"github.com/promoreel/promoreel-api/internal/credits"
	"github.com/promoreel/promoreel-api/internal/pipeline"
	"github.com/promoreel/promoreel-api/internal/poller"
	"github.com/promoreel/promoreel-api/internal/progress"
	"github.com/promoreel/promoreel-api/internal/queue"
	"github.com/promoreel/promoreel-api/internal/retry"
	"github.com/promoreel/promoreel-api/internal/script"
	"github.com/promoreel/promoreel-api/internal/storage"
	"github.com/promoreel/promoreel-api/internal/videogen"
	"github.com/promoreel/promoreel-api/internal/videos"
	"github.com/promoreel/promoreel-api/internal/voice"
)

// Dependencies holds all initialized collaborators for the binaries.
type Dependencies struct {
	Ledger       *credits.Ledger
	Progress     progress.Store
	Videos       videos.Store
	Orchestrator *pipeline.Orchestrator
	Dispatcher   queue.Dispatcher
	Rabbit       *queue.RabbitDispatcher // nil in direct mode
	Poller       *poller.Poller

	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewDependencies creates and initializes all dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	// Persistence: Postgres when configured, in-memory otherwise.
	var (
		creditStore credits.Store
		videoStore  videos.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		deps.pool = pool

		pgCredits := credits.NewPostgresStore(pool)
		if err := pgCredits.EnsureSchema(ctx); err != nil {
			deps.Close()
			return nil, err
		}
		pgVideos := videos.NewPostgresStore(pool)
		if err := pgVideos.EnsureSchema(ctx); err != nil {
			deps.Close()
			return nil, err
		}
		creditStore = pgCredits
		videoStore = pgVideos
		logger.Info("postgres storage configured")
	} else {
		creditStore = credits.NewMemoryStore()
		videoStore = videos.NewMemoryStore()
		logger.Warn("running on in-memory stores, data is not durable")
	}
	deps.Ledger = credits.NewLedger(creditStore, logger)
	deps.Videos = videoStore

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("bootstrap: parse redis url: %w", err)
		}
		deps.redis = redis.NewClient(opts)
		if err := deps.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without it",
				slog.String("error", err.Error()))
			_ = deps.redis.Close()
			deps.redis = nil
		}
	}

	// Queue mode needs both the broker and Redis-backed progress so a
	// worker process can report progress the API can read. Anything
	// less degrades to direct in-process execution.
	if cfg.QueueEnabled() && deps.redis != nil {
		rabbit, err := queue.Connect(ctx, cfg.RabbitURL, queue.DefaultQueueName,
			cfg.QueueProbeAttempts, cfg.QueueProbeDelay, logger)
		if err != nil {
			logger.Warn("broker unavailable, degrading to direct mode",
				slog.String("error", err.Error()))
		} else {
			deps.Rabbit = rabbit
		}
	} else if cfg.QueueEnabled() {
		logger.Warn("queue configured without redis, degrading to direct mode")
	}

	if deps.Rabbit != nil {
		deps.Progress = progress.NewRedisStore(deps.redis, logger)
	} else {
		deps.Progress = progress.NewMemoryStore(logger)
	}

	clientPolicy := retry.Policy{
		MaxAttempts: cfg.ClientMaxAttempts,
		BaseDelay:   cfg.ClientBaseBackoff,
	}

	voiceOpts := []voice.Option{voice.WithRetryPolicy(clientPolicy)}
	if deps.redis != nil {
		voiceOpts = append(voiceOpts, voice.WithCache(voice.NewRedisCache(deps.redis)))
	}
	voiceClient, err := voice.NewClient(cfg.VoiceAPIKey, cfg.VoiceBaseURL, logger, voiceOpts...)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("bootstrap: create voice client: %w", err)
	}

	videoClient, err := videogen.NewClient(cfg.VideoAPIKey, cfg.VideoBaseURL, logger,
		videogen.WithRetryPolicy(clientPolicy))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("bootstrap: create video client: %w", err)
	}

	scriptClient := script.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, logger,
		script.WithRetryPolicy(clientPolicy))

	artifacts, err := initStorage(cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.Orchestrator = pipeline.New(pipeline.Deps{
		Ledger:    deps.Ledger,
		Progress:  deps.Progress,
		Videos:    deps.Videos,
		Scripts:   scriptClient,
		Voices:    voiceClient,
		VideoGen:  videoClient,
		Artifacts: artifacts,
	}, pipeline.Config{
		VideoPollInterval: cfg.VideoPollInterval,
		VideoWaitCeiling:  cfg.VideoWaitCeiling,
	}, logger)

	if deps.Rabbit != nil {
		deps.Dispatcher = deps.Rabbit
	} else {
		deps.Dispatcher = queue.NewDirectDispatcher(deps.Orchestrator, logger)
	}

	deps.Poller = poller.New(deps.Videos, videoClient, deps.Orchestrator, poller.Config{
		Interval:      cfg.PollerInterval,
		FreshWindow:   cfg.PollerFreshWindow,
		Fanout:        cfg.PollerFanout,
		SweepInterval: cfg.SweepInterval,
		StuckAfter:    cfg.SweepStuckAfter,
	}, logger)

	logger.Info("dependencies initialized",
		slog.String("dispatch_mode", string(deps.Dispatcher.Mode())),
		slog.String("progress_mode", string(deps.Progress.Mode())),
	)
	return deps, nil
}

// RunProgressCleanup removes stale progress entries on a fixed period
// until ctx is cancelled.
func (d *Dependencies) RunProgressCleanup(ctx context.Context, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := d.Progress.Cleanup(ctx, maxAge)
			if err != nil {
				logger.Warn("progress cleanup failed",
					slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				logger.Info("progress entries cleaned up",
					slog.Int("removed", removed))
			}
		}
	}
}

// Close releases all held resources.
func (d *Dependencies) Close() {
	if d.Dispatcher != nil {
		_ = d.Dispatcher.Close()
	} else if d.Rabbit != nil {
		_ = d.Rabbit.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// initStorage creates the delivery storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStore(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
