package videos

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newRecord(id string, started time.Time) *Video {
	return &Video{
		ID:                  id,
		UserID:              "user-1",
		Status:              StatusPending,
		CreditCost:          8,
		GenerationStartedAt: started,
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Create(ctx, newRecord("job-1", time.Now())); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	v, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Status != StatusPending || v.CreditCost != 8 {
		t.Errorf("unexpected record %+v", v)
	}

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SetProviderJobPromotes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetProviderJob(ctx, "job-1", "prov-42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, _ := store.Get(ctx, "job-1")
	if v.ProviderJobID != "prov-42" {
		t.Errorf("unexpected provider job id %q", v.ProviderJobID)
	}
	if v.Status != StatusProcessing {
		t.Errorf("expected processing after submission, got %s", v.Status)
	}
}

func TestMemoryStore_TerminalIsImmutable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.MarkCompleted(ctx, "job-1", "https://cdn/final.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A late poller observation must not overwrite the result.
	if err := store.MarkFailed(ctx, "job-1", "provider timeout"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
	if err := store.MarkCancelled(ctx, "job-1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}

	v, _ := store.Get(ctx, "job-1")
	if v.Status != StatusCompleted {
		t.Errorf("terminal status overwritten: %s", v.Status)
	}
	if v.OutputRef != "https://cdn/final.mp4" {
		t.Errorf("unexpected output ref %q", v.OutputRef)
	}
	if v.GenerationEndedAt == nil {
		t.Error("expected generation ended timestamp")
	}
}

func TestMemoryStore_MarkFailedRecordsReason(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.MarkFailed(ctx, "job-1", "voice synthesis failed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, _ := store.Get(ctx, "job-1")
	if v.Status != StatusFailed || v.Error != "voice synthesis failed" {
		t.Errorf("unexpected record %+v", v)
	}
}

func TestMemoryStore_ListProcessing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	fresh := newRecord("fresh", now.Add(-time.Minute))
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetProviderJob(ctx, "fresh", "prov-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Processing but without provider job id: not yet pollable.
	pending := newRecord("pending", now.Add(-time.Minute))
	if err := store.Create(ctx, pending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale := newRecord("stale", now.Add(-time.Hour))
	if err := store.Create(ctx, stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetProviderJob(ctx, "stale", "prov-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := store.ListProcessing(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "fresh" {
		t.Errorf("unexpected processing list %+v", list)
	}
}

func TestMemoryStore_ListStuck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	old := newRecord("old", now.Add(-time.Hour))
	if err := store.Create(ctx, old); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetProviderJob(ctx, "old", "prov-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recent := newRecord("recent", now.Add(-time.Minute))
	if err := store.Create(ctx, recent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetProviderJob(ctx, "recent", "prov-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := newRecord("done", now.Add(-2*time.Hour))
	if err := store.Create(ctx, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetProviderJob(ctx, "done", "prov-3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.MarkCompleted(ctx, "done", "ref"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := store.ListStuck(ctx, now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "old" {
		t.Errorf("unexpected stuck list %+v", list)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, _ := store.Get(ctx, "job-1")
	v.Status = StatusFailed

	again, _ := store.Get(ctx, "job-1")
	if again.Status != StatusPending {
		t.Error("mutation of returned record leaked into the store")
	}
}
