// Package videogen provides an HTTP client for the asynchronous
// image-to-video generation provider. Submission returns immediately
// with a provider job id; completion is observed later via CheckStatus.
package videogen

// Status represents the status of a provider-side generation job.
type Status string

// Provider job statuses.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// SubmitRequest contains the parameters for submitting a generation job.
type SubmitRequest struct {
	// ImageRef is the URL of the source product image.
	ImageRef string
	// Prompt is the scene description derived from the script.
	Prompt string
	// Style is the visual treatment identifier.
	Style string
	// DurationSeconds is the target video length.
	DurationSeconds int
}

// SubmitResult is the provider's acknowledgement of a submission.
type SubmitResult struct {
	// ProviderJobID correlates all later status checks.
	ProviderJobID string
	// Status is the initial provider status, normally queued.
	Status Status
}

// StatusResult is one observation of a provider job.
type StatusResult struct {
	Status Status
	// Progress is the provider-reported percentage (0-100).
	Progress int
	// OutputRef is the generated video URL (set when completed).
	OutputRef string
	// Error is the provider failure reason (set when failed).
	Error string
}

// submitRequest is the wire format of the provider's /generate endpoint.
type submitRequest struct {
	ImageURL        string `json:"image_url"`
	Prompt          string `json:"prompt"`
	Style           string `json:"style"`
	DurationSeconds int    `json:"duration_seconds"`
}

// submitResponse is the wire response of /generate.
type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse is the wire response of /jobs/{id}.
type statusResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress,omitempty"`
	Output   struct {
		VideoURL string `json:"video_url,omitempty"`
	} `json:"output,omitempty"`
	Error string `json:"error,omitempty"`
}

// cancelResponse is the wire response of DELETE /jobs/{id}.
type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}
