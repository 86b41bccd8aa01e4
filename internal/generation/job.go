// Package generation provides the generation job domain: the Job
// aggregate, the pipeline stage machine and credit pricing.
package generation

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/promoreel/promoreel-api/internal/generation/id"
)

// Style selects the visual treatment of the generated video.
type Style string

// Supported video styles.
const (
	StyleModerne     Style = "moderne"
	StyleDynamique   Style = "dynamique"
	StyleMinimaliste Style = "minimaliste"
	// StyleLuxe is the premium style and carries a 1.5x credit surcharge.
	StyleLuxe Style = "luxe"
)

// IsValid returns true if the style is one of the supported values.
func (s Style) IsValid() bool {
	switch s {
	case StyleModerne, StyleDynamique, StyleMinimaliste, StyleLuxe:
		return true
	default:
		return false
	}
}

// Multiplier returns the credit cost multiplier for the style.
func (s Style) Multiplier() float64 {
	if s == StyleLuxe {
		return 1.5
	}
	return 1.0
}

// Stage represents one step of the generation pipeline.
type Stage string

// Pipeline stages in execution order, plus the two absorbing states.
const (
	StageValidation Stage = "validation"
	StageScript     Stage = "script_generation"
	StageVoice      Stage = "voice_generation"
	StageVideo      Stage = "video_generation"
	StageAssembly   Stage = "assembly"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
	StageCancelled  Stage = "cancelled"
)

// ErrInvalidTransition is returned when an invalid stage transition is attempted.
var ErrInvalidTransition = errors.New("generation: invalid stage transition")

// validTransitions defines which stage transitions are allowed.
// failed and cancelled are reachable from every non-terminal stage.
var validTransitions = map[Stage][]Stage{
	StageValidation: {StageScript, StageFailed, StageCancelled},
	StageScript:     {StageVoice, StageFailed, StageCancelled},
	StageVoice:      {StageVideo, StageFailed, StageCancelled},
	StageVideo:      {StageAssembly, StageFailed, StageCancelled},
	StageAssembly:   {StageCompleted, StageFailed, StageCancelled},
	StageCompleted:  {},
	StageFailed:     {},
	StageCancelled:  {},
}

// canTransition checks if a transition from one stage to another is valid.
func canTransition(from, to Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the stage is an absorbing state.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// ProductInfo describes the product being advertised.
type ProductInfo struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Price          string `json:"price,omitempty"`
	Category       string `json:"category,omitempty"`
	TargetAudience string `json:"targetAudience,omitempty"`
}

// VoiceSettings control the text-to-speech rendering of the script.
type VoiceSettings struct {
	VoiceID string  `json:"voiceId"`
	Speed   float64 `json:"speed,omitempty"`
	Pitch   float64 `json:"pitch,omitempty"`
}

// Request carries everything needed to run one generation job.
type Request struct {
	JobID           string        `json:"jobId"`
	UserID          string        `json:"userId"`
	ImageRef        string        `json:"imageRef"`
	Product         ProductInfo   `json:"product"`
	Style           Style         `json:"style"`
	Voice           VoiceSettings `json:"voice"`
	DurationSeconds int           `json:"durationSeconds"`
}

// Static validation errors for Request.
var (
	ErrMissingUserID   = errors.New("generation: user id is required")
	ErrMissingImageRef = errors.New("generation: image reference is required")
	ErrMissingProduct  = errors.New("generation: product name and description are required")
	ErrInvalidStyle    = errors.New("generation: unsupported style")
	ErrInvalidDuration = errors.New("generation: duration must be between 5 and 60 seconds")
)

// Validate checks that the request has everything the pipeline needs.
// Runs before any credit or provider cost is incurred.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrMissingUserID
	}
	if strings.TrimSpace(r.ImageRef) == "" {
		return ErrMissingImageRef
	}
	if strings.TrimSpace(r.Product.Name) == "" || strings.TrimSpace(r.Product.Description) == "" {
		return ErrMissingProduct
	}
	if !r.Style.IsValid() {
		return ErrInvalidStyle
	}
	if r.DurationSeconds < 5 || r.DurationSeconds > 60 {
		return ErrInvalidDuration
	}
	return nil
}

// Job is the in-flight generation job aggregate. The pipeline owns a
// job from submission until it parks in the video wait state; after
// that only one writer at a time touches it, keyed by JobID.
type Job struct {
	mu sync.RWMutex

	// Request is the immutable submission payload.
	Request Request
	// Stage is the current pipeline stage.
	Stage Stage
	// CreditsReserved is the debit taken at validation time.
	CreditsReserved int64
	// ProviderJobID correlates with the external video generation job.
	ProviderJobID string
	// Script is the generated (or fallback) marketing script.
	Script string
	// VoiceRef is the generated audio asset reference.
	VoiceRef string
	// OutputRef is the final video location once completed.
	OutputRef string
	// TerminalError holds the failure reason for failed jobs.
	TerminalError string
	// CreatedAt is when the job was submitted.
	CreatedAt time.Time
	// UpdatedAt is when the job was last mutated.
	UpdatedAt time.Time
}

// NewJob creates a Job in the validation stage with a generated id.
func NewJob(req Request) *Job {
	if req.JobID == "" {
		req.JobID = id.Generate()
	}
	now := time.Now().UTC()
	return &Job{
		Request:   req,
		Stage:     StageValidation,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.Request.JobID
}

// TransitionTo attempts to move the job to the given stage.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(stage Stage) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Stage, stage) {
		return ErrInvalidTransition
	}
	j.Stage = stage
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail moves the job to the failed stage with a reason.
func (j *Job) Fail(reason string) error {
	j.mu.Lock()
	j.TerminalError = reason
	j.mu.Unlock()
	return j.TransitionTo(StageFailed)
}

// CurrentStage returns the current stage (thread-safe).
func (j *Job) CurrentStage() Stage {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Stage
}

// IsTerminal returns true if the job reached an absorbing state.
func (j *Job) IsTerminal() bool {
	return j.CurrentStage().IsTerminal()
}
