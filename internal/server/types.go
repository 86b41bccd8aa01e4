// Package server provides the HTTP surface of the PromoReel API:
// generation submission and tracking, credit operations, queue
// introspection and health. DTOs are separated from domain types.
package server

import (
	"time"

	"github.com/promoreel/promoreel-api/internal/credits"
	"github.com/promoreel/promoreel-api/internal/progress"
	"github.com/promoreel/promoreel-api/internal/queue"
)

// ProductPayload describes the advertised product in a request.
type ProductPayload struct {
	Name           string `json:"name" validate:"required"`
	Description    string `json:"description" validate:"required"`
	Price          string `json:"price,omitempty"`
	Category       string `json:"category,omitempty"`
	TargetAudience string `json:"targetAudience,omitempty"`
}

// VoicePayload carries the text-to-speech settings of a request.
type VoicePayload struct {
	VoiceID string  `json:"voiceId" validate:"required"`
	Speed   float64 `json:"speed,omitempty" validate:"omitempty,gte=0.5,lte=2"`
	Pitch   float64 `json:"pitch,omitempty" validate:"omitempty,gte=-1,lte=1"`
}

// GenerateRequest is the HTTP request body for submitting a generation.
type GenerateRequest struct {
	// ImageRef is the URL of the source product image.
	ImageRef string `json:"imageRef" validate:"required,url"`
	// Product describes what the video advertises.
	Product ProductPayload `json:"product" validate:"required"`
	// Style selects the visual treatment.
	Style string `json:"style" validate:"required"`
	// Voice configures the voice-over.
	Voice VoicePayload `json:"voice" validate:"required"`
	// DurationSeconds is the target video length.
	DurationSeconds int `json:"durationSeconds" validate:"required,min=5,max=60"`
}

// GenerateResponse acknowledges an accepted generation job.
type GenerateResponse struct {
	JobID            string `json:"jobId"`
	Status           string `json:"status"`
	CreditsReserved  int64  `json:"creditsReserved"`
	EstimatedSeconds int    `json:"estimatedSeconds"`
}

// StatusResponse reports the progress of one job.
type StatusResponse struct {
	JobID    string            `json:"jobId"`
	Status   progress.Status   `json:"status"`
	Progress progress.Progress `json:"progress"`
}

// JobDetailResponse is the full durable view of one job.
type JobDetailResponse struct {
	ID                  string     `json:"id"`
	Status              string     `json:"status"`
	OutputRef           string     `json:"outputRef,omitempty"`
	CreditCost          int64      `json:"creditCost"`
	GenerationStartedAt time.Time  `json:"generationStartedAt"`
	GenerationEndedAt   *time.Time `json:"generationEndedAt,omitempty"`
	Error               string     `json:"error,omitempty"`
}

// CancelResponse acknowledges a cancellation.
type CancelResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// BalanceResponse reports a user's credit balance.
type BalanceResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// ConsumeRequest is the body of a manual credit consumption.
type ConsumeRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required"`
}

// AddRequest is the body of an administrative credit grant.
type AddRequest struct {
	UserID string `json:"userId" validate:"required"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Source string `json:"source" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// TransactionResponse reports the outcome of a ledger mutation.
type TransactionResponse struct {
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId"`
	Amount        int64  `json:"amount"`
	Type          string `json:"type"`
	Source        string `json:"source"`
	BalanceAfter  int64  `json:"balanceAfter"`
}

// HistoryResponse is a paginated transaction history.
type HistoryResponse struct {
	Transactions []credits.Transaction `json:"transactions"`
	Total        int                   `json:"total"`
	Page         int                   `json:"page"`
	Limit        int                   `json:"limit"`
	Summary      credits.Summary       `json:"summary"`
}

// QueueHealthResponse reports dispatch health.
type QueueHealthResponse struct {
	Status string     `json:"status"`
	Mode   queue.Mode `json:"mode"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Required and Available detail insufficient-credit rejections.
	Required  int64 `json:"required,omitempty"`
	Available int64 `json:"available,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
