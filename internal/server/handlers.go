package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/promoreel/promoreel-api/internal/credits"
	"github.com/promoreel/promoreel-api/internal/generation"
	"github.com/promoreel/promoreel-api/internal/pipeline"
	"github.com/promoreel/promoreel-api/internal/progress"
	"github.com/promoreel/promoreel-api/internal/queue"
	"github.com/promoreel/promoreel-api/internal/videos"
)

// Identity headers set by the auth collaborator in front of this
// service. No authentication happens here.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	orchestrator *pipeline.Orchestrator
	dispatcher   queue.Dispatcher
	progress     progress.Store
	ledger       *credits.Ledger
	videos       videos.Store
	validator    *validator.Validate
	logger       *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	orchestrator *pipeline.Orchestrator,
	dispatcher queue.Dispatcher,
	progressStore progress.Store,
	ledger *credits.Ledger,
	videoStore videos.Store,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		progress:     progressStore,
		ledger:       ledger,
		videos:       videoStore,
		validator:    validator.New(),
		logger:       logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Generate handles POST /generate requests: validate, reserve credits,
// dispatch, answer 202 with the job id.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	genReq := generation.Request{
		UserID:   userID,
		ImageRef: req.ImageRef,
		Product: generation.ProductInfo{
			Name:           req.Product.Name,
			Description:    req.Product.Description,
			Price:          req.Product.Price,
			Category:       req.Product.Category,
			TargetAudience: req.Product.TargetAudience,
		},
		Style: generation.Style(req.Style),
		Voice: generation.VoiceSettings{
			VoiceID: req.Voice.VoiceID,
			Speed:   req.Voice.Speed,
			Pitch:   req.Voice.Pitch,
		},
		DurationSeconds: req.DurationSeconds,
	}

	job, err := h.orchestrator.Prepare(r.Context(), genReq)
	if err != nil {
		h.writePrepareError(w, r, genReq, err)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), job); err != nil {
		h.logger.Error("dispatch failed",
			slog.String("job_id", job.ID()),
			slog.String("error", err.Error()),
		)
		// The reservation is already taken; settle the job so the
		// credits come back.
		if rec, getErr := h.videos.Get(r.Context(), job.ID()); getErr == nil {
			h.orchestrator.FailAbandoned(r.Context(), rec, "dispatch failed")
		}
		writeError(w, http.StatusInternalServerError, "failed to dispatch job", "DISPATCH_FAILED")
		return
	}

	h.logger.Info("generation accepted",
		slog.String("job_id", job.ID()),
		slog.String("user_id", userID),
		slog.String("style", req.Style),
		slog.Int("duration_seconds", req.DurationSeconds),
	)

	writeJSON(w, http.StatusAccepted, GenerateResponse{
		JobID:            job.ID(),
		Status:           string(progress.StatusQueued),
		CreditsReserved:  job.CreditsReserved,
		EstimatedSeconds: generation.EstimateSeconds(req.DurationSeconds),
	})
}

func (h *Handlers) writePrepareError(w http.ResponseWriter, r *http.Request, req generation.Request, err error) {
	if errors.Is(err, credits.ErrInsufficientCredits) {
		required := generation.Cost(req.DurationSeconds, req.Style)
		available, balErr := h.ledger.GetBalance(r.Context(), req.UserID)
		if balErr != nil {
			available = 0
		}
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error:     "insufficient credits",
			Code:      "INSUFFICIENT_CREDITS",
			Required:  required,
			Available: available,
		})
		return
	}

	switch {
	case errors.Is(err, generation.ErrMissingUserID),
		errors.Is(err, generation.ErrMissingImageRef),
		errors.Is(err, generation.ErrMissingProduct),
		errors.Is(err, generation.ErrInvalidStyle),
		errors.Is(err, generation.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		h.logger.Error("failed to prepare job",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
	}
}

// GenerateStatus handles GET /generate/status/{jobId} requests.
func (h *Handlers) GenerateStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	info, err := h.progress.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, progress.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job status", "STATUS_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		JobID:    jobID,
		Status:   info.Status,
		Progress: info.Progress,
	})
}

// GetJob handles GET /generate/{jobId} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(w, r)
	if !ok {
		return
	}
	jobID := r.PathValue("jobId")

	rec, err := h.videos.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, videos.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}
	// Jobs are private to their owner; don't reveal existence.
	if rec.UserID != userID {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}

	writeJSON(w, http.StatusOK, JobDetailResponse{
		ID:                  rec.ID,
		Status:              string(rec.Status),
		OutputRef:           rec.OutputRef,
		CreditCost:          rec.CreditCost,
		GenerationStartedAt: rec.GenerationStartedAt,
		GenerationEndedAt:   rec.GenerationEndedAt,
		Error:               rec.Error,
	})
}

// CancelJob handles DELETE /generate/{jobId} requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(w, r)
	if !ok {
		return
	}
	jobID := r.PathValue("jobId")

	err := h.orchestrator.Cancel(r.Context(), jobID, userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CancelResponse{JobID: jobID, Status: string(videos.StatusCancelled)})
	case errors.Is(err, pipeline.ErrJobNotFound), errors.Is(err, pipeline.ErrNotOwner):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, pipeline.ErrJobFinished):
		writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
	default:
		h.logger.Error("failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel job", "CANCEL_FAILED")
	}
}

// GetBalance handles GET /credits requests.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(w, r)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil && !errors.Is(err, credits.ErrUserNotFound) {
		h.logger.Error("failed to get balance",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get balance", "BALANCE_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// ConsumeCredits handles POST /credits/consume requests.
func (h *Handlers) ConsumeCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	txn, err := h.ledger.Consume(r.Context(), userID, req.Amount, req.Reason, nil)
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits), errors.Is(err, credits.ErrUserNotFound):
		available, balErr := h.ledger.GetBalance(r.Context(), userID)
		if balErr != nil {
			available = 0
		}
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error:     "insufficient credits",
			Code:      "INSUFFICIENT_CREDITS",
			Required:  req.Amount,
			Available: available,
		})
	case err != nil:
		h.logger.Error("failed to consume credits",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to consume credits", "CONSUME_FAILED")
	default:
		writeJSON(w, http.StatusOK, transactionResponse(txn))
	}
}

// AddCredits handles POST /credits/add requests. Admin only.
func (h *Handlers) AddCredits(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(headerUserRole) != roleAdmin {
		writeError(w, http.StatusForbidden, "admin role required", "FORBIDDEN")
		return
	}

	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	source := credits.Source(req.Source)
	if !source.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown credit source", "INVALID_SOURCE")
		return
	}

	txn, err := h.ledger.Add(r.Context(), req.UserID, req.Amount, source, req.Reason, nil)
	if err != nil {
		h.logger.Error("failed to add credits",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to add credits", "ADD_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, transactionResponse(txn))
}

// GetHistory handles GET /credits/history requests.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := credits.HistoryFilter{
		Type:   credits.Type(q.Get("type")),
		Source: credits.Source(q.Get("source")),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}

	history, err := h.ledger.GetHistory(r.Context(), userID, filter, page, limit)
	if err != nil {
		if errors.Is(err, credits.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found", "USER_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get history",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get history", "HISTORY_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Transactions: history.Transactions,
		Total:        history.Total,
		Page:         history.Page,
		Limit:        history.Limit,
		Summary:      history.Summary,
	})
}

// QueueStats handles GET /queue/stats requests.
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dispatcher.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get queue stats",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable", "QUEUE_UNAVAILABLE")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// QueueHealth handles GET /queue/health requests. Direct mode is
// reported as degraded: the service works but lost queue durability.
func (h *Handlers) QueueHealth(w http.ResponseWriter, r *http.Request) {
	mode := h.dispatcher.Mode()
	status := "ok"
	if mode == queue.ModeDirect {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, QueueHealthResponse{Status: status, Mode: mode})
}

// identify extracts the caller's user id from the auth collaborator
// header, rejecting unidentified requests.
func (h *Handlers) identify(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user identity required", "MISSING_USER")
		return "", false
	}
	return userID, true
}

func transactionResponse(txn credits.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		Amount:        txn.Amount,
		Type:          string(txn.Type),
		Source:        string(txn.Source),
		BalanceAfter:  txn.BalanceAfter,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
