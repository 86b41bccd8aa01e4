// Package pipeline runs generation jobs through their stages: validate,
// reserve credits, generate a script, synthesize the voice-over, submit
// the video job, wait for the provider, assemble and publish the final
// video. Every failure path releases the credit reservation exactly
// once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/promoreel/promoreel-api/internal/credits"
	"github.com/promoreel/promoreel-api/internal/generation"
	"github.com/promoreel/promoreel-api/internal/progress"
	"github.com/promoreel/promoreel-api/internal/retry"
	"github.com/promoreel/promoreel-api/internal/script"
	"github.com/promoreel/promoreel-api/internal/storage"
	"github.com/promoreel/promoreel-api/internal/videogen"
	"github.com/promoreel/promoreel-api/internal/videos"
	"github.com/promoreel/promoreel-api/internal/voice"
)

// Static errors for pipeline operations.
var (
	// ErrJobNotFound is returned when no job exists for the id.
	ErrJobNotFound = errors.New("pipeline: job not found")
	// ErrNotOwner is returned when a user operates on another user's job.
	ErrNotOwner = errors.New("pipeline: job belongs to another user")
	// ErrJobFinished is returned when cancelling an already-terminal job.
	ErrJobFinished = errors.New("pipeline: job already finished")
	// ErrVideoWaitTimeout signals that the provider exceeded the wait ceiling.
	ErrVideoWaitTimeout = errors.New("pipeline: video generation timed out")
)

// Progress percentages reported at each stage boundary. The provider
// wait interpolates between videoSubmitted and videoDone.
const (
	pctValidated      = 5
	pctScriptDone     = 25
	pctVoiceDone      = 40
	pctVideoSubmitted = 45
	pctVideoDone      = 85
	pctAssembled      = 95
)

// Config holds the orchestrator timing knobs.
type Config struct {
	// VideoPollInterval is how often the provider is polled while waiting.
	VideoPollInterval time.Duration
	// VideoWaitCeiling is the wall-clock budget for the provider wait.
	VideoWaitCeiling time.Duration
	// RefundPolicy drives the retry of failed refund attempts.
	RefundPolicy retry.Policy
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Ledger    *credits.Ledger
	Progress  progress.Store
	Videos    videos.Store
	Scripts   script.Generator
	Voices    voice.Synthesizer
	VideoGen  videogen.Generator
	Artifacts storage.Store
	// HTTPClient downloads provider-hosted output during assembly.
	HTTPClient *http.Client
}

// Orchestrator drives one job at a time through the generation stages.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VideoPollInterval <= 0 {
		cfg.VideoPollInterval = 5 * time.Second
	}
	if cfg.VideoWaitCeiling <= 0 {
		cfg.VideoWaitCeiling = 5 * time.Minute
	}
	if cfg.RefundPolicy.MaxAttempts == 0 {
		cfg.RefundPolicy = retry.DefaultPolicy()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}
}

// Prepare validates a request, registers the job and reserves credits.
// It runs synchronously at submission time so the caller can reject
// invalid or unfunded requests before anything is dispatched. On
// success the job is in the validation stage with its reservation
// taken; Run picks it up from there.
func (o *Orchestrator) Prepare(ctx context.Context, req generation.Request) (*generation.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cost := generation.Cost(req.DurationSeconds, req.Style)
	ok, err := o.deps.Ledger.CheckSufficient(ctx, req.UserID, cost)
	if errors.Is(err, credits.ErrUserNotFound) {
		return nil, credits.ErrInsufficientCredits
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: balance check: %w", err)
	}
	if !ok {
		return nil, credits.ErrInsufficientCredits
	}

	job := generation.NewJob(req)
	job.CreditsReserved = cost

	estimate := generation.EstimateSeconds(req.DurationSeconds)
	if err := o.deps.Progress.CreateJob(ctx, job.ID(), progress.Progress{
		JobID:                     job.ID(),
		Stage:                     generation.StageValidation,
		Message:                   "job accepted",
		EstimatedSecondsRemaining: estimate,
	}); err != nil {
		return nil, fmt.Errorf("pipeline: register progress: %w", err)
	}

	if err := o.deps.Videos.Create(ctx, &videos.Video{
		ID:                  job.ID(),
		UserID:              req.UserID,
		Status:              videos.StatusPending,
		CreditCost:          cost,
		GenerationStartedAt: job.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("pipeline: register video: %w", err)
	}

	// Reservation happens before any external cost is incurred.
	// ConsumeForJob is idempotent per job id, so a dispatch retry
	// cannot double-debit.
	if _, err := o.deps.Ledger.ConsumeForJob(ctx, req.UserID, cost, job.ID()); err != nil {
		// A concurrent debit may have drained the balance after the
		// check above. Park the job as failed; nothing was charged.
		o.finalizeFailure(ctx, job.ID(), req.UserID, "insufficient credits")
		return nil, err
	}

	o.logger.Info("job prepared",
		slog.String("job_id", job.ID()),
		slog.String("user_id", req.UserID),
		slog.Int64("credits_reserved", cost),
	)
	return job, nil
}

// Run executes the pipeline for a prepared job. It is called in-process
// by the direct dispatcher or by a queue worker; either way exactly one
// Run owns a job at a time.
func (o *Orchestrator) Run(ctx context.Context, job *generation.Job) error {
	jobID := job.ID()
	userID := job.Request.UserID

	o.update(ctx, jobID, progress.Update{
		Percentage: ptr(pctValidated),
		Message:    "request validated",
		LogMessage: "validation passed",
	})

	// Script generation cannot fail: the generator falls back to a
	// deterministic template when the language model is unavailable.
	if err := job.TransitionTo(generation.StageScript); err != nil {
		return o.fail(ctx, job, fmt.Sprintf("script stage: %v", err))
	}
	o.update(ctx, jobID, progress.Update{
		Percentage: ptr(pctValidated + 5),
		Stage:      generation.StageScript,
		Message:    "writing marketing script",
	})
	scriptResult, _ := o.deps.Scripts.Generate(ctx, job.Request.Product, job.Request.Style, job.Request.DurationSeconds)
	job.Script = scriptResult.Text
	logMsg := "script generated"
	if scriptResult.Fallback {
		logMsg = "script generated from template"
	}
	o.update(ctx, jobID, progress.Update{
		Percentage: ptr(pctScriptDone),
		Message:    "script ready",
		LogMessage: logMsg,
	})

	if err := job.TransitionTo(generation.StageVoice); err != nil {
		return o.fail(ctx, job, fmt.Sprintf("voice stage: %v", err))
	}
	o.update(ctx, jobID, progress.Update{
		Stage:   generation.StageVoice,
		Message: "synthesizing voice-over",
	})
	voiceResult, err := o.deps.Voices.Synthesize(ctx, job.Script, job.Request.Voice)
	if err != nil {
		return o.fail(ctx, job, fmt.Sprintf("voice synthesis failed: %v", err))
	}
	job.VoiceRef = voiceResult.AudioRef
	o.update(ctx, jobID, progress.Update{
		Percentage: ptr(pctVoiceDone),
		Message:    "voice-over ready",
		LogMessage: "voice synthesized",
	})

	if err := job.TransitionTo(generation.StageVideo); err != nil {
		return o.fail(ctx, job, fmt.Sprintf("video stage: %v", err))
	}
	o.update(ctx, jobID, progress.Update{
		Stage:   generation.StageVideo,
		Message: "submitting video generation",
	})
	submit, err := o.deps.VideoGen.Submit(ctx, videogen.SubmitRequest{
		ImageRef:        job.Request.ImageRef,
		Prompt:          job.Script,
		Style:           string(job.Request.Style),
		DurationSeconds: job.Request.DurationSeconds,
	})
	if err != nil {
		return o.fail(ctx, job, fmt.Sprintf("video submission failed: %v", err))
	}
	job.ProviderJobID = submit.ProviderJobID
	if err := o.deps.Videos.SetProviderJob(ctx, jobID, submit.ProviderJobID); err != nil {
		o.logger.Warn("failed to record provider job id",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	o.update(ctx, jobID, progress.Update{
		Percentage: ptr(pctVideoSubmitted),
		Message:    "video generation in progress",
		LogMessage: "provider job " + submit.ProviderJobID + " submitted",
	})

	outputRef, err := o.waitForVideo(ctx, job)
	if errors.Is(err, errJobCancelled) {
		// Cancellation already finalized the record and the refund.
		return nil
	}
	if err != nil {
		return o.fail(ctx, job, err.Error())
	}
	o.update(ctx, jobID, progress.Update{
		Percentage: ptr(pctVideoDone),
		Message:    "video rendered",
		LogMessage: "provider finished rendering",
	})

	if err := job.TransitionTo(generation.StageAssembly); err != nil {
		return o.fail(ctx, job, fmt.Sprintf("assembly stage: %v", err))
	}
	o.update(ctx, jobID, progress.Update{
		Stage:   generation.StageAssembly,
		Message: "publishing final video",
	})
	finalRef, err := o.assemble(ctx, jobID, outputRef)
	if err != nil {
		return o.fail(ctx, job, fmt.Sprintf("assembly failed: %v", err))
	}
	job.OutputRef = finalRef
	o.update(ctx, jobID, progress.Update{
		Percentage: ptr(pctAssembled),
		Message:    "video published",
		LogMessage: "final video stored",
	})

	if err := job.TransitionTo(generation.StageCompleted); err != nil {
		return o.fail(ctx, job, fmt.Sprintf("completion: %v", err))
	}
	if err := o.deps.Videos.MarkCompleted(ctx, jobID, finalRef); err != nil && !errors.Is(err, videos.ErrAlreadyTerminal) {
		o.logger.Error("failed to finalize video record",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	o.update(ctx, jobID, progress.Update{
		Percentage:                ptr(100),
		Stage:                     generation.StageCompleted,
		Message:                   "completed",
		EstimatedSecondsRemaining: ptr(0),
		LogMessage:                "job completed",
	})

	o.logger.Info("job completed",
		slog.String("job_id", jobID),
		slog.String("user_id", userID),
		slog.String("output_ref", finalRef),
	)
	return nil
}

// errJobCancelled is an internal signal that the wait loop observed a
// cancellation finalized by another writer.
var errJobCancelled = errors.New("pipeline: job cancelled during wait")

// waitForVideo polls the provider until the job finishes, the wall
// clock ceiling passes, or a cancellation is observed.
func (o *Orchestrator) waitForVideo(ctx context.Context, job *generation.Job) (string, error) {
	jobID := job.ID()
	deadline := time.Now().Add(o.cfg.VideoWaitCeiling)

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("pipeline: video wait interrupted: %w", ctx.Err())
		case <-time.After(o.cfg.VideoPollInterval):
		}

		// A concurrent cancel finalizes the record; stop waiting.
		if rec, err := o.deps.Videos.Get(ctx, jobID); err == nil && rec.Status == videos.StatusCancelled {
			return "", errJobCancelled
		}

		status, err := o.deps.VideoGen.CheckStatus(ctx, job.ProviderJobID)
		if err != nil {
			o.logger.Warn("provider status check failed",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
			if time.Now().After(deadline) {
				return "", ErrVideoWaitTimeout
			}
			continue
		}

		switch status.Status {
		case videogen.StatusCompleted:
			return status.OutputRef, nil
		case videogen.StatusFailed:
			reason := status.Error
			if reason == "" {
				reason = "provider reported failure"
			}
			return "", fmt.Errorf("pipeline: video generation failed: %s", reason)
		case videogen.StatusTimeout:
			return "", ErrVideoWaitTimeout
		}

		if status.Progress > 0 {
			pct := pctVideoSubmitted + (pctVideoDone-pctVideoSubmitted)*status.Progress/100
			o.update(ctx, jobID, progress.Update{Percentage: ptr(pct)})
		}
		if time.Now().After(deadline) {
			return "", ErrVideoWaitTimeout
		}
	}
}

// assemble downloads the provider output and publishes it under a
// stable key, returning the delivery URL.
func (o *Orchestrator) assemble(ctx context.Context, jobID, providerRef string) (string, error) {
	body, err := storage.Fetch(ctx, o.deps.HTTPClient, providerRef)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	return o.deps.Artifacts.Publish(ctx, jobID+".mp4", body)
}

// Cancel stops a job on the user's request. Provider cancellation is
// best-effort; the terminal state and the refund are not.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, userID string) error {
	rec, err := o.deps.Videos.Get(ctx, jobID)
	if errors.Is(err, videos.ErrNotFound) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("pipeline: load video: %w", err)
	}
	if rec.UserID != userID {
		return ErrNotOwner
	}
	if rec.Status.IsTerminal() {
		return ErrJobFinished
	}

	if rec.ProviderJobID != "" {
		if ok, err := o.deps.VideoGen.Cancel(ctx, rec.ProviderJobID); err != nil {
			o.logger.Warn("provider cancel failed",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
		} else if !ok {
			o.logger.Info("provider declined cancellation",
				slog.String("job_id", jobID))
		}
	}

	if err := o.deps.Videos.MarkCancelled(ctx, jobID); err != nil {
		if errors.Is(err, videos.ErrAlreadyTerminal) {
			return ErrJobFinished
		}
		return fmt.Errorf("pipeline: mark cancelled: %w", err)
	}

	o.update(ctx, jobID, progress.Update{
		Stage:      generation.StageCancelled,
		Message:    "cancelled by user",
		LogMessage: "job cancelled",
	})
	o.refund(ctx, jobID, rec.UserID, "job cancelled")

	o.logger.Info("job cancelled",
		slog.String("job_id", jobID),
		slog.String("user_id", userID),
	)
	return nil
}

// SettleObservation applies one provider status observation to a
// video record. The status poller uses it so reconciliation performs
// the exact same terminal transitions as the in-process run. Returns
// true when the record reached a terminal state.
func (o *Orchestrator) SettleObservation(ctx context.Context, rec *videos.Video, status videogen.StatusResult) (bool, error) {
	switch status.Status {
	case videogen.StatusCompleted:
		finalRef, err := o.assemble(ctx, rec.ID, status.OutputRef)
		if err != nil {
			o.finalizeFailure(ctx, rec.ID, rec.UserID, fmt.Sprintf("assembly failed: %v", err))
			return true, nil
		}
		if err := o.deps.Videos.MarkCompleted(ctx, rec.ID, finalRef); err != nil {
			if errors.Is(err, videos.ErrAlreadyTerminal) {
				return false, nil
			}
			return false, err
		}
		o.update(ctx, rec.ID, progress.Update{
			Percentage:                ptr(100),
			Stage:                     generation.StageCompleted,
			Message:                   "completed",
			EstimatedSecondsRemaining: ptr(0),
			LogMessage:                "job completed",
		})
		return true, nil

	case videogen.StatusFailed:
		reason := status.Error
		if reason == "" {
			reason = "provider reported failure"
		}
		o.finalizeFailure(ctx, rec.ID, rec.UserID, reason)
		return true, nil

	case videogen.StatusTimeout:
		o.finalizeFailure(ctx, rec.ID, rec.UserID, "timeout")
		return true, nil
	}

	if status.Progress > 0 {
		pct := pctVideoSubmitted + (pctVideoDone-pctVideoSubmitted)*status.Progress/100
		o.update(ctx, rec.ID, progress.Update{Percentage: ptr(pct)})
	}
	return false, nil
}

// FailAbandoned finalizes a record that sat in processing past the
// hard ceiling, releasing its reservation.
func (o *Orchestrator) FailAbandoned(ctx context.Context, rec *videos.Video, reason string) {
	o.finalizeFailure(ctx, rec.ID, rec.UserID, reason)
}

// fail finalizes a job on the failure path: terminal record, terminal
// progress, refund.
func (o *Orchestrator) fail(ctx context.Context, job *generation.Job, reason string) error {
	_ = job.Fail(reason)
	o.finalizeFailure(ctx, job.ID(), job.Request.UserID, reason)
	return fmt.Errorf("pipeline: job %s failed: %s", job.ID(), reason)
}

func (o *Orchestrator) finalizeFailure(ctx context.Context, jobID, userID, reason string) {
	if err := o.deps.Videos.MarkFailed(ctx, jobID, reason); err != nil && !errors.Is(err, videos.ErrAlreadyTerminal) {
		o.logger.Error("failed to mark video failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	o.update(ctx, jobID, progress.Update{
		Stage:      generation.StageFailed,
		Message:    reason,
		LogLevel:   "error",
		LogMessage: reason,
	})
	o.refund(ctx, jobID, userID, reason)

	o.logger.Warn("job failed",
		slog.String("job_id", jobID),
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
}

// refund releases the job's reservation. Already-refunded and
// never-reserved are success; transient failures are retried, and a
// persistent failure is logged as a critical alert for manual
// reconciliation.
func (o *Orchestrator) refund(ctx context.Context, jobID, userID, reason string) {
	err := o.cfg.RefundPolicy.Do(ctx, func(ctx context.Context) error {
		_, err := o.deps.Ledger.RefundJob(ctx, userID, jobID, reason)
		if credits.IsRefunded(err) || errors.Is(err, credits.ErrNoReservation) {
			return nil
		}
		return retry.Transient(err)
	})
	if err != nil {
		o.logger.Error("CRITICAL: refund failed after retries, credits leaked",
			slog.String("job_id", jobID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// update pushes a progress update, logging rather than failing: losing
// one progress tick must not abort the pipeline.
func (o *Orchestrator) update(ctx context.Context, jobID string, u progress.Update) {
	if err := o.deps.Progress.UpdateProgress(ctx, jobID, u); err != nil {
		o.logger.Warn("progress update failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}

func ptr(v int) *int {
	return &v
}
