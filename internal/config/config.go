// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrVideoAPIKeyRequired is returned when VIDEO_API_KEY is not set.
	ErrVideoAPIKeyRequired = errors.New("config: VIDEO_API_KEY is required")
	// ErrVoiceAPIKeyRequired is returned when VOICE_API_KEY is not set.
	ErrVoiceAPIKeyRequired = errors.New("config: VOICE_API_KEY is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Persistence settings. When DatabaseURL is empty the service runs
	// on in-memory stores (development only).
	DatabaseURL string `env:"DATABASE_URL" json:"-"` // Masked in JSON
	RedisURL    string `env:"REDIS_URL" json:"redis_url,omitempty"`

	// Queue settings. The broker is probed at startup; after
	// QueueProbeAttempts failed connections the service degrades to
	// direct in-process execution.
	RabbitURL          string        `env:"RABBITMQ_URL" json:"rabbitmq_url,omitempty"`
	QueueProbeAttempts int           `env:"QUEUE_PROBE_ATTEMPTS, default=3" json:"queue_probe_attempts"`
	QueueProbeDelay    time.Duration `env:"QUEUE_PROBE_DELAY, default=2s" json:"queue_probe_delay"`

	// Script provider (OpenAI-compatible chat completion).
	OpenAIAPIKey  string `env:"OPENAI_API_KEY" json:"-"` // Masked in JSON
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" json:"openai_base_url,omitempty"`

	// Voice provider (text-to-speech).
	VoiceAPIKey  string `env:"VOICE_API_KEY, required" json:"-"` // Masked in JSON
	VoiceBaseURL string `env:"VOICE_BASE_URL, default=https://api.voicereel.ai/v1" json:"voice_base_url"`

	// Video generation provider (async image-to-video jobs).
	VideoAPIKey  string `env:"VIDEO_API_KEY, required" json:"-"` // Masked in JSON
	VideoBaseURL string `env:"VIDEO_BASE_URL, default=https://api.kinetix.run/v2" json:"video_base_url"`

	// Provider retry policy shared by all three clients.
	ClientMaxAttempts int           `env:"CLIENT_MAX_ATTEMPTS, default=3" json:"client_max_attempts"`
	ClientBaseBackoff time.Duration `env:"CLIENT_BASE_BACKOFF, default=1s" json:"client_base_backoff"`

	// Video generation wait loop.
	VideoPollInterval time.Duration `env:"VIDEO_POLL_INTERVAL, default=5s" json:"video_poll_interval"`
	VideoWaitCeiling  time.Duration `env:"VIDEO_WAIT_CEILING, default=5m" json:"video_wait_ceiling"`

	// Status poller settings.
	PollerInterval    time.Duration `env:"POLLER_INTERVAL, default=10s" json:"poller_interval"`
	PollerFreshWindow time.Duration `env:"POLLER_FRESH_WINDOW, default=5m" json:"poller_fresh_window"`
	PollerFanout      int           `env:"POLLER_FANOUT, default=5" json:"poller_fanout"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL, default=1h" json:"sweep_interval"`
	SweepStuckAfter   time.Duration `env:"SWEEP_STUCK_AFTER, default=10m" json:"sweep_stuck_after"`

	// Progress store cleanup.
	ProgressMaxAge time.Duration `env:"PROGRESS_MAX_AGE, default=1h" json:"progress_max_age"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/promoreel" json:"temp_dir"`

	// Optional S3 settings for final video delivery.
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// QueueEnabled returns true if a broker URL is configured.
func (c *Config) QueueEnabled() bool {
	return c.RabbitURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "VIDEO_API_KEY") {
			return nil, ErrVideoAPIKeyRequired
		}
		if strings.Contains(err.Error(), "VOICE_API_KEY") {
			return nil, ErrVoiceAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.VideoAPIKey == "" {
		return ErrVideoAPIKeyRequired
	}
	if c.VoiceAPIKey == "" {
		return ErrVoiceAPIKeyRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, RedisURL: %s, RabbitURL: %s, VoiceBaseURL: %s, VideoBaseURL: %s, TempDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.RedisURL,
		c.RabbitURL,
		c.VoiceBaseURL,
		c.VideoBaseURL,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
