package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /generate", h.Generate)
	mux.HandleFunc("GET /generate/status/{jobId}", h.GenerateStatus)
	mux.HandleFunc("GET /generate/{jobId}", h.GetJob)
	mux.HandleFunc("DELETE /generate/{jobId}", h.CancelJob)

	mux.HandleFunc("GET /credits", h.GetBalance)
	mux.HandleFunc("POST /credits/consume", h.ConsumeCredits)
	mux.HandleFunc("POST /credits/add", h.AddCredits)
	mux.HandleFunc("GET /credits/history", h.GetHistory)

	mux.HandleFunc("GET /queue/stats", h.QueueStats)
	mux.HandleFunc("GET /queue/health", h.QueueHealth)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
