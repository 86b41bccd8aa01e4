// Package script generates the marketing script for a product video.
// It calls an OpenAI-compatible chat completion API and falls back to
// a deterministic template when the provider fails, so the pipeline
// stage can degrade in quality but never fail.
package script

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/promoreel/promoreel-api/internal/generation"
	"github.com/promoreel/promoreel-api/internal/retry"
)

// Result is the outcome of script generation.
type Result struct {
	// Text is the marketing script.
	Text string
	// Fallback is true when the template was used instead of the
	// provider output.
	Fallback bool
}

// Generator produces a marketing script for a product.
type Generator interface {
	Generate(ctx context.Context, product generation.ProductInfo, style generation.Style, durationSeconds int) (Result, error)
}

// chatClient is the subset of the OpenAI client used here, extracted
// for testing.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client generates scripts via chat completion with template fallback.
type Client struct {
	chat    chatClient
	model   string
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the chat completion model.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithChatClient injects a custom chat client (used in tests).
func WithChatClient(chat chatClient) Option {
	return func(c *Client) {
		c.chat = chat
	}
}

// NewClient creates a script client. When apiKey is empty the client
// always uses the template fallback, which keeps development setups
// working without provider credentials.
func NewClient(apiKey, baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		model:   openai.GPT4oMini,
		policy:  retry.DefaultPolicy(),
		timeout: 30 * time.Second,
		logger:  logger,
	}

	if apiKey != "" {
		cfg := openai.DefaultConfig(apiKey)
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		c.chat = openai.NewClientWithConfig(cfg)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate produces a marketing script. It never returns an error for
// provider failures; those degrade to the template fallback.
func (c *Client) Generate(ctx context.Context, product generation.ProductInfo, style generation.Style, durationSeconds int) (Result, error) {
	if c.chat == nil {
		return Result{Text: TemplateScript(product, style, durationSeconds), Fallback: true}, nil
	}

	start := time.Now()
	var text string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.chat.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You write punchy voice-over scripts for short product marketing videos. Respond with the script text only.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt(product, style, durationSeconds),
				},
			},
		})
		if err != nil {
			// The SDK does not expose status codes uniformly; treat all
			// chat failures as transient so the shared policy retries.
			return retry.Transient(fmt.Errorf("script: chat completion: %w", err))
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return retry.Transient(fmt.Errorf("script: empty completion"))
		}
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})

	if err != nil {
		c.logger.Warn("script provider failed, using template fallback",
			slog.String("product", product.Name),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return Result{Text: TemplateScript(product, style, durationSeconds), Fallback: true}, nil
	}

	c.logger.Info("script generated",
		slog.String("product", product.Name),
		slog.Duration("latency", time.Since(start)),
		slog.Int("length", len(text)),
	)
	return Result{Text: text}, nil
}

// prompt builds the user message for the chat completion.
func prompt(product generation.ProductInfo, style generation.Style, durationSeconds int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %d-second voice-over script in a %s tone for the following product.\n", durationSeconds, style)
	fmt.Fprintf(&b, "Product: %s\nDescription: %s\n", product.Name, product.Description)
	if product.Price != "" {
		fmt.Fprintf(&b, "Price: %s\n", product.Price)
	}
	if product.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", product.Category)
	}
	if product.TargetAudience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", product.TargetAudience)
	}
	return b.String()
}
