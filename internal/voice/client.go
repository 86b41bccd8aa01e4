// Package voice provides an HTTP client for the text-to-speech
// provider. Results are cached by a hash of the input so identical
// scripts do not incur repeated provider cost.
package voice

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/promoreel/promoreel-api/internal/generation"
	"github.com/promoreel/promoreel-api/internal/retry"
)

// Static errors for voice client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("voice: API key is required")
	// ErrInvalidInput is returned on 4xx provider responses; not retried.
	ErrInvalidInput = errors.New("voice: invalid input")
	// ErrRateLimited is returned on 429 provider responses.
	ErrRateLimited = errors.New("voice: rate limited")
	// ErrProviderError is returned on 5xx provider responses.
	ErrProviderError = errors.New("voice: provider error")
	// ErrTimeout is returned when the request times out or the network fails.
	ErrTimeout = errors.New("voice: request timed out")
)

// cacheTTL is how long synthesized audio references stay cached.
const cacheTTL = 7 * 24 * time.Hour

// Result is a synthesized audio asset.
type Result struct {
	// AudioRef is the provider URL of the audio asset.
	AudioRef string `json:"audioRef"`
	// DurationSeconds is the length of the audio.
	DurationSeconds float64 `json:"durationSeconds"`
}

// Synthesizer converts a script into an audio asset.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, settings generation.VoiceSettings) (Result, error)
}

// Client is the HTTP implementation of Synthesizer.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	cache      Cache
	logger     *slog.Logger
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithCache sets the synthesis result cache.
func WithCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// NewClient creates a voice HTTP client. Without an explicit cache it
// falls back to an in-process one.
func NewClient(apiKey, baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     retry.DefaultPolicy(),
		cache:      NewMemoryCache(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ttsRequest is the request body for the provider's /tts endpoint.
type ttsRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed,omitempty"`
	Pitch   float64 `json:"pitch,omitempty"`
}

// ttsResponse is the provider's response body.
type ttsResponse struct {
	AudioURL        string  `json:"audio_url"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

// cacheKey hashes the synthesis input. Identical text and settings hit
// the same cache entry.
func cacheKey(text string, settings generation.VoiceSettings) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%.3f|%.3f", text, settings.VoiceID, settings.Speed, settings.Pitch)
	return "promoreel:voice:" + hex.EncodeToString(h.Sum(nil))
}

// Synthesize converts text to speech, consulting the cache first.
func (c *Client) Synthesize(ctx context.Context, text string, settings generation.VoiceSettings) (Result, error) {
	if text == "" || settings.VoiceID == "" {
		return Result{}, fmt.Errorf("%w: text and voice id are required", ErrInvalidInput)
	}

	key := cacheKey(text, settings)
	if cached, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var result Result
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			c.logger.Debug("voice cache hit", slog.String("voice_id", settings.VoiceID))
			return result, nil
		}
	}

	start := time.Now()
	var result Result
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.call(ctx, text, settings)
		return callErr
	})

	c.logger.Info("voice synthesis",
		slog.String("voice_id", settings.VoiceID),
		slog.Duration("latency", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		return Result{}, err
	}

	if data, marshalErr := json.Marshal(result); marshalErr == nil {
		if cacheErr := c.cache.Set(ctx, key, string(data), cacheTTL); cacheErr != nil {
			c.logger.Warn("voice cache write failed", slog.String("error", cacheErr.Error()))
		}
	}
	return result, nil
}

// call performs a single synthesis request.
func (c *Client) call(ctx context.Context, text string, settings generation.VoiceSettings) (Result, error) {
	body, err := json.Marshal(ttsRequest{
		Text:    text,
		VoiceID: settings.VoiceID,
		Speed:   settings.Speed,
		Pitch:   settings.Pitch,
	})
	if err != nil {
		return Result{}, fmt.Errorf("voice: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("voice: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, retry.Transient(fmt.Errorf("%w: %v", ErrTimeout, err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, retry.Transient(fmt.Errorf("voice: read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return Result{}, retry.Transient(fmt.Errorf("%w %d: %s", ErrProviderError, resp.StatusCode, respBody))
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, retry.Transient(fmt.Errorf("%w: %s", ErrRateLimited, respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrInvalidInput, resp.StatusCode, respBody)
	}

	var parsed ttsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("voice: unmarshal response: %w", err)
	}
	if parsed.AudioURL == "" {
		return Result{}, fmt.Errorf("%w: no audio URL in response", ErrProviderError)
	}

	return Result{AudioRef: parsed.AudioURL, DurationSeconds: parsed.DurationSeconds}, nil
}
