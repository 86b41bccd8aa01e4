package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/promoreel/promoreel-api/internal/videogen"
	"github.com/promoreel/promoreel-api/internal/videos"
)

type fakeGen struct {
	mu       sync.Mutex
	statuses map[string]videogen.StatusResult
	err      error
	checked  []string
}

func (f *fakeGen) Submit(_ context.Context, _ videogen.SubmitRequest) (videogen.SubmitResult, error) {
	return videogen.SubmitResult{}, nil
}

func (f *fakeGen) CheckStatus(_ context.Context, providerJobID string) (videogen.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, providerJobID)
	if f.err != nil {
		return videogen.StatusResult{}, f.err
	}
	return f.statuses[providerJobID], nil
}

func (f *fakeGen) Cancel(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (f *fakeGen) checkedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.checked...)
}

type fakeSettler struct {
	mu        sync.Mutex
	settled   []string
	abandoned []string
	terminal  map[string]bool
}

func (f *fakeSettler) SettleObservation(_ context.Context, rec *videos.Video, status videogen.StatusResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status.Status.IsTerminal() {
		f.settled = append(f.settled, rec.ID)
		return true, nil
	}
	return false, nil
}

func (f *fakeSettler) FailAbandoned(_ context.Context, rec *videos.Video, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, rec.ID+":"+reason)
}

func addProcessing(t *testing.T, store videos.Store, id, providerID string, started time.Time) {
	t.Helper()
	ctx := context.Background()
	err := store.Create(ctx, &videos.Video{
		ID:                  id,
		UserID:              "user-1",
		Status:              videos.StatusPending,
		GenerationStartedAt: started,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if providerID != "" {
		if err := store.SetProviderJob(ctx, id, providerID); err != nil {
			t.Fatalf("set provider job: %v", err)
		}
	}
}

func testConfig() Config {
	return Config{
		Interval:    time.Millisecond,
		FreshWindow: 5 * time.Minute,
		Fanout:      2,
		StuckAfter:  10 * time.Minute,
	}
}

func TestPollOnce_SettlesTerminalJobs(t *testing.T) {
	store := videos.NewMemoryStore()
	now := time.Now()
	addProcessing(t, store, "job-done", "prov-1", now)
	addProcessing(t, store, "job-running", "prov-2", now)

	gen := &fakeGen{statuses: map[string]videogen.StatusResult{
		"prov-1": {Status: videogen.StatusCompleted, OutputRef: "https://cdn.gen/v.mp4"},
		"prov-2": {Status: videogen.StatusProcessing, Progress: 40},
	}}
	settler := &fakeSettler{}
	p := New(store, gen, settler, testConfig(), nil)

	p.PollOnce(context.Background())

	if got := len(gen.checkedIDs()); got != 2 {
		t.Errorf("expected 2 status checks, got %d", got)
	}
	if len(settler.settled) != 1 || settler.settled[0] != "job-done" {
		t.Errorf("unexpected settled jobs %v", settler.settled)
	}
}

func TestPollOnce_SkipsStaleAndTerminalRecords(t *testing.T) {
	store := videos.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	addProcessing(t, store, "stale", "prov-1", now.Add(-time.Hour))
	addProcessing(t, store, "finished", "prov-2", now)
	if err := store.MarkCompleted(ctx, "finished", "ref"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	gen := &fakeGen{statuses: map[string]videogen.StatusResult{}}
	settler := &fakeSettler{}
	p := New(store, gen, settler, testConfig(), nil)

	p.PollOnce(ctx)

	if got := len(gen.checkedIDs()); got != 0 {
		t.Errorf("expected no status checks, got %d (%v)", got, gen.checkedIDs())
	}
}

func TestPollOnce_ProviderErrorLeavesRecordAlone(t *testing.T) {
	store := videos.NewMemoryStore()
	addProcessing(t, store, "job-1", "prov-1", time.Now())

	gen := &fakeGen{err: videogen.ErrProviderError}
	settler := &fakeSettler{}
	p := New(store, gen, settler, testConfig(), nil)

	p.PollOnce(context.Background())

	if len(settler.settled) != 0 {
		t.Errorf("errored check must not settle, got %v", settler.settled)
	}
	rec, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != videos.StatusProcessing {
		t.Errorf("record status changed to %s", rec.Status)
	}
}

func TestSweepOnce_FailsAbandonedJobs(t *testing.T) {
	store := videos.NewMemoryStore()
	now := time.Now()
	addProcessing(t, store, "abandoned", "prov-1", now.Add(-time.Hour))
	addProcessing(t, store, "submitting", "", now.Add(-time.Hour))
	addProcessing(t, store, "fresh", "prov-2", now)

	gen := &fakeGen{}
	settler := &fakeSettler{}
	p := New(store, gen, settler, testConfig(), nil)

	p.SweepOnce(context.Background())

	want := map[string]bool{"abandoned:abandoned": true, "submitting:abandoned": true}
	if len(settler.abandoned) != 2 {
		t.Fatalf("expected 2 abandoned jobs, got %v", settler.abandoned)
	}
	for _, got := range settler.abandoned {
		if !want[got] {
			t.Errorf("unexpected abandoned entry %q", got)
		}
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := videos.NewMemoryStore()
	p := New(store, &fakeGen{}, &fakeSettler{}, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on context cancel")
	}
}
