// Package main provides the entry point for the PromoReel generation
// worker, which consumes queued jobs and runs the pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/promoreel/promoreel-api/internal/bootstrap"
	"github.com/promoreel/promoreel-api/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env for local development; the file is optional.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.QueueEnabled() {
		return fmt.Errorf("worker requires RABBITMQ_URL to be set")
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting PromoReel worker",
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	// The worker has nothing to do without a broker connection. The
	// bootstrap degrades to direct mode silently for the API, but a
	// degraded worker would consume nothing, so fail loudly instead.
	if deps.Rabbit == nil {
		return fmt.Errorf("broker or redis unavailable, worker cannot start")
	}

	go func() {
		shutdownCh := make(chan os.Signal, 1)
		signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)
		sig := <-shutdownCh
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
		cancel()
	}()

	logger.Info("consuming generation jobs")
	if err := deps.Rabbit.Consume(ctx, deps.Orchestrator); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consume failed: %w", err)
	}

	logger.Info("worker stopped gracefully")
	return nil
}
