package generation

import (
	"errors"
	"testing"
)

func validRequest() Request {
	return Request{
		UserID:   "u1",
		ImageRef: "https://cdn.example.com/products/lamp.jpg",
		Product: ProductInfo{
			Name:        "Desk Lamp",
			Description: "A minimalist brass desk lamp.",
		},
		Style:           StyleModerne,
		Voice:           VoiceSettings{VoiceID: "fr-claire"},
		DurationSeconds: 10,
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
	}{
		{"valid", func(*Request) {}, nil},
		{"missing user", func(r *Request) { r.UserID = " " }, ErrMissingUserID},
		{"missing image", func(r *Request) { r.ImageRef = "" }, ErrMissingImageRef},
		{"missing product name", func(r *Request) { r.Product.Name = "" }, ErrMissingProduct},
		{"missing description", func(r *Request) { r.Product.Description = "" }, ErrMissingProduct},
		{"bad style", func(r *Request) { r.Style = "vaporwave" }, ErrInvalidStyle},
		{"too short", func(r *Request) { r.DurationSeconds = 3 }, ErrInvalidDuration},
		{"too long", func(r *Request) { r.DurationSeconds = 90 }, ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewJob_GeneratesID(t *testing.T) {
	job := NewJob(validRequest())
	if job.ID() == "" {
		t.Error("expected generated job id")
	}
	if job.CurrentStage() != StageValidation {
		t.Errorf("expected validation stage, got %s", job.CurrentStage())
	}
}

func TestJob_TransitionOrder(t *testing.T) {
	job := NewJob(validRequest())

	for _, stage := range []Stage{StageScript, StageVoice, StageVideo, StageAssembly, StageCompleted} {
		if err := job.TransitionTo(stage); err != nil {
			t.Fatalf("transition to %s: %v", stage, err)
		}
	}
	if !job.IsTerminal() {
		t.Error("expected terminal job")
	}

	// Completed is absorbing.
	if err := job.TransitionTo(StageFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from completed, got %v", err)
	}
}

func TestJob_SkippingStagesRejected(t *testing.T) {
	job := NewJob(validRequest())
	if err := job.TransitionTo(StageVideo); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestJob_FailFromAnyActiveStage(t *testing.T) {
	stages := [][]Stage{
		{},
		{StageScript},
		{StageScript, StageVoice},
		{StageScript, StageVoice, StageVideo},
		{StageScript, StageVoice, StageVideo, StageAssembly},
	}

	for _, path := range stages {
		job := NewJob(validRequest())
		for _, s := range path {
			if err := job.TransitionTo(s); err != nil {
				t.Fatalf("transition to %s: %v", s, err)
			}
		}
		if err := job.Fail("provider exploded"); err != nil {
			t.Errorf("fail from %s: %v", job.CurrentStage(), err)
		}
		if job.CurrentStage() != StageFailed {
			t.Errorf("expected failed stage, got %s", job.CurrentStage())
		}
		if job.TerminalError != "provider exploded" {
			t.Errorf("expected terminal error recorded, got %q", job.TerminalError)
		}
	}
}

func TestStage_IsTerminal(t *testing.T) {
	tests := []struct {
		stage    Stage
		terminal bool
	}{
		{StageValidation, false},
		{StageScript, false},
		{StageVoice, false},
		{StageVideo, false},
		{StageAssembly, false},
		{StageCompleted, true},
		{StageFailed, true},
		{StageCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.stage.IsTerminal(); got != tt.terminal {
			t.Errorf("Stage(%q).IsTerminal() = %v, want %v", tt.stage, got, tt.terminal)
		}
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		style    Style
		want     int64
	}{
		{"10s moderne", 10, StyleModerne, 5},
		{"15s rounds up a slice", 15, StyleDynamique, 10},
		{"20s minimaliste", 20, StyleMinimaliste, 10},
		{"10s luxe surcharge", 10, StyleLuxe, 8},
		{"30s luxe", 30, StyleLuxe, 23},
		{"zero duration", 0, StyleModerne, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cost(tt.duration, tt.style); got != tt.want {
				t.Errorf("Cost(%d, %s) = %d, want %d", tt.duration, tt.style, got, tt.want)
			}
		})
	}
}
