package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/promoreel/promoreel-api/internal/retry"
)

// Static errors for videogen client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("videogen: API key is required")
	// ErrJobIDRequired is returned when the provider job ID is not provided.
	ErrJobIDRequired = errors.New("videogen: provider job ID is required")
	// ErrNoJobIDReturned is returned when the submit response contains no job ID.
	ErrNoJobIDReturned = errors.New("videogen: submit failed: no job ID returned")
	// ErrSubmitFailed is returned when the submit operation fails.
	ErrSubmitFailed = errors.New("videogen: submit failed")
	// ErrInvalidInput is returned on 4xx provider responses; not retried.
	ErrInvalidInput = errors.New("videogen: invalid input")
	// ErrRateLimited is returned on 429 provider responses.
	ErrRateLimited = errors.New("videogen: rate limited")
	// ErrProviderError is returned on 5xx provider responses.
	ErrProviderError = errors.New("videogen: provider error")
	// ErrTimeout is returned when the request times out or the network fails.
	ErrTimeout = errors.New("videogen: request timed out")
)

// Generator defines the interface for the asynchronous video provider.
type Generator interface {
	// Submit sends a generation job and returns the provider job id.
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)

	// CheckStatus returns one observation of a provider job.
	CheckStatus(ctx context.Context, providerJobID string) (StatusResult, error)

	// Cancel asks the provider to stop a job. Best-effort.
	Cancel(ctx context.Context, providerJobID string) (bool, error)
}

// Client is the HTTP implementation of Generator.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// Compile-time check that Client implements Generator.
var _ Generator = (*Client)(nil)

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

// NewClient creates a videogen HTTP client.
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
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit sends a generation job and returns the provider job id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	body, err := json.Marshal(submitRequest{
		ImageURL:        req.ImageRef,
		Prompt:          req.Prompt,
		Style:           req.Style,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("videogen: marshal request: %w", err)
	}

	var resp submitResponse
	if err := c.doWithRetry(ctx, http.MethodPost, c.baseURL+"/generate", body, &resp); err != nil {
		return SubmitResult{}, err
	}

	if resp.ID == "" {
		if resp.Error != "" {
			return SubmitResult{}, fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return SubmitResult{}, ErrNoJobIDReturned
	}

	status := mapStatus(resp.Status)
	if status == "" {
		status = StatusQueued
	}
	return SubmitResult{ProviderJobID: resp.ID, Status: status}, nil
}

// CheckStatus returns one observation of a provider job.
func (c *Client) CheckStatus(ctx context.Context, providerJobID string) (StatusResult, error) {
	if providerJobID == "" {
		return StatusResult{}, ErrJobIDRequired
	}

	var resp statusResponse
	url := fmt.Sprintf("%s/jobs/%s", c.baseURL, providerJobID)
	if err := c.doWithRetry(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{
		Status:   mapStatus(resp.Status),
		Progress: resp.Progress,
	}
	switch result.Status {
	case StatusCompleted:
		result.OutputRef = resp.Output.VideoURL
	case StatusFailed, StatusTimeout:
		result.Error = resp.Error
	}
	return result, nil
}

// Cancel asks the provider to stop a job.
func (c *Client) Cancel(ctx context.Context, providerJobID string) (bool, error) {
	if providerJobID == "" {
		return false, ErrJobIDRequired
	}

	var resp cancelResponse
	url := fmt.Sprintf("%s/jobs/%s", c.baseURL, providerJobID)
	if err := c.doWithRetry(ctx, http.MethodDelete, url, nil, &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

// mapStatus normalizes provider statuses onto the package's Status set.
func mapStatus(s string) Status {
	switch s {
	case "queued", "in_queue", "pending":
		return StatusQueued
	case "processing", "running", "in_progress":
		return StatusProcessing
	case "completed", "succeeded":
		return StatusCompleted
	case "failed", "error":
		return StatusFailed
	case "timeout", "timed_out":
		return StatusTimeout
	default:
		return Status(s)
	}
}

// doWithRetry performs an HTTP request through the shared retry policy.
func (c *Client) doWithRetry(ctx context.Context, method, url string, body []byte, result any) error {
	start := time.Now()
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, method, url, body, result)
	})
	c.logger.Info("videogen call",
		slog.String("method", method),
		slog.String("url", url),
		slog.Duration("latency", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	return err
}

// do performs a single HTTP request.
func (c *Client) do(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("videogen: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("%w: %v", ErrTimeout, err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Transient(fmt.Errorf("videogen: read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return retry.Transient(fmt.Errorf("%w %d: %s", ErrProviderError, resp.StatusCode, respBody))
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.Transient(fmt.Errorf("%w: %s", ErrRateLimited, respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidInput, resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("videogen: unmarshal response: %w", err)
		}
	}
	return nil
}
