package rotation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// fakeBackend scripts pick responses and records what the driver sent
type fakeBackend struct {
	mu        sync.Mutex
	picks     []*models.RotationPick
	pickCalls int
	attempts  map[string]*models.SourceAttemptResult
	submitted [][]*models.JobPosting
	results   func(postings []*models.JobPosting) []interfaces.EnqueueResult
}

func newFakeBackend(picks ...*models.RotationPick) *fakeBackend {
	return &fakeBackend{
		picks:    picks,
		attempts: make(map[string]*models.SourceAttemptResult),
	}
}

func (f *fakeBackend) PickRotation(ctx context.Context, k int) (*models.RotationPick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.pickCalls
	f.pickCalls++
	if idx >= len(f.picks) {
		idx = len(f.picks) - 1
	}
	return f.picks[idx], nil
}

func (f *fakeBackend) RecordResult(ctx context.Context, sourceID string, result *models.SourceAttemptResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[sourceID] = result
	return nil
}

func (f *fakeBackend) SubmitPostings(ctx context.Context, postings []*models.JobPosting) ([]interfaces.EnqueueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, postings)
	if f.results != nil {
		return f.results(postings), nil
	}
	out := make([]interfaces.EnqueueResult, len(postings))
	for i, p := range postings {
		out[i] = interfaces.EnqueueResult{URL: p.URL, Accepted: true}
	}
	return out, nil
}

func (f *fakeBackend) pickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pickCalls
}

// fakeScrapers returns canned results keyed by source id
type fakeScrapers struct {
	mu      sync.Mutex
	byID    map[string]*interfaces.ScrapeResult
	errByID map[string]error
	calls   int
}

func (f *fakeScrapers) Scrape(ctx context.Context, source *models.Source) (*interfaces.ScrapeResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := f.errByID[source.SourceID]; err != nil {
		return nil, err
	}
	if r := f.byID[source.SourceID]; r != nil {
		return r, nil
	}
	return &interfaces.ScrapeResult{}, nil
}

func (f *fakeScrapers) FetchDetail(ctx context.Context, url string, renderJS bool) (*models.JobPosting, error) {
	return nil, fmt.Errorf("detail fetch not supported in this test")
}

func (f *fakeScrapers) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(backend interfaces.RotationBackend, scrapers interfaces.ScraperService, cfg *common.RotationConfig) *Service {
	if cfg == nil {
		cfg = &common.RotationConfig{
			Schedule:    "*/1 * * * * *",
			BatchK:      5,
			BackoffBase: "50ms",
			BackoffMax:  "200ms",
		}
	}
	svc := NewService(backend, scrapers, nil, cfg, arbor.NewLogger())
	return svc.(*Service)
}

func testSource(id string, kind models.SourceKind) *models.Source {
	return &models.Source{
		SourceID: id,
		Kind:     kind,
		Enabled:  true,
		Tier:     models.TierB,
		BaseURL:  "https://example.com/" + id,
	}
}

func TestRunOnceScrapesAndSubmits(t *testing.T) {
	srcA := testSource("src-a", models.KindGreenhouseBoard)
	srcB := testSource("src-b", models.KindRSS)

	backend := newFakeBackend(&models.RotationPick{
		Sources:       []*models.Source{srcA, srcB},
		Pending:       10,
		HighWatermark: 500,
	})
	scrapers := &fakeScrapers{
		byID: map[string]*interfaces.ScrapeResult{
			"src-a": {Postings: []*models.JobPosting{
				{URL: "https://example.com/jobs/1", Title: "Backend Engineer"},
				{URL: "https://example.com/jobs/2", Title: "SRE"},
			}},
		},
		errByID: map[string]error{
			"src-b": models.NewKindError(models.ErrKindBlocked, "board returned 403", nil),
		},
	}

	svc := newTestService(backend, scrapers, nil)

	report, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if report.SourcesPicked != 2 || report.SourcesOK != 1 || report.SourcesFailed != 1 {
		t.Errorf("Unexpected source counts: %+v", report)
	}
	if report.PostingsFound != 2 || report.Enqueued != 2 {
		t.Errorf("Expected 2 postings found and enqueued, got %+v", report)
	}

	ok := backend.attempts["src-a"]
	if ok == nil || !ok.OK || ok.JobsFound != 2 {
		t.Errorf("Unexpected recorded attempt for src-a: %+v", ok)
	}
	failed := backend.attempts["src-b"]
	if failed == nil || failed.OK {
		t.Fatalf("Expected failed attempt for src-b, got %+v", failed)
	}
	if !strings.HasPrefix(failed.Error, "BLOCKED") {
		t.Errorf("Expected BLOCKED-tagged attempt error, got %q", failed.Error)
	}

	if len(backend.submitted) != 1 || len(backend.submitted[0]) != 2 {
		t.Errorf("Expected a single batch of 2 postings, got %d batches", len(backend.submitted))
	}
}

func TestRunOnceBackpressureSkips(t *testing.T) {
	backend := newFakeBackend(&models.RotationPick{
		Pending:       600,
		HighWatermark: 500,
	})
	scrapers := &fakeScrapers{}
	svc := newTestService(backend, scrapers, nil)

	report, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if !report.Backpressure {
		t.Error("Expected backpressure report")
	}
	if report.SourcesPicked != 0 {
		t.Errorf("Backpressure run must not pick sources, got %d", report.SourcesPicked)
	}
	if scrapers.callCount() != 0 {
		t.Errorf("Backpressure run must not scrape, got %d calls", scrapers.callCount())
	}
	if len(backend.attempts) != 0 {
		t.Errorf("Backpressure run must not record attempts, got %d", len(backend.attempts))
	}

	svc.mu.Lock()
	level := svc.backoffLevel
	svc.mu.Unlock()
	if level != 1 {
		t.Errorf("Expected backoff level 1 after one skip, got %d", level)
	}
}

func TestTickHonorsBackoffWindow(t *testing.T) {
	pressured := &models.RotationPick{Pending: 600, HighWatermark: 500}
	drained := &models.RotationPick{Pending: 10, HighWatermark: 500}

	backend := newFakeBackend(pressured, drained)
	svc := newTestService(backend, &fakeScrapers{}, nil)

	// First tick hits backpressure and opens a 50ms skip window.
	svc.tick()
	if got := backend.pickCount(); got != 1 {
		t.Fatalf("Expected 1 pick, got %d", got)
	}

	// A tick inside the window must not reach the backend.
	svc.tick()
	if got := backend.pickCount(); got != 1 {
		t.Fatalf("Tick during backoff must skip, got %d picks", got)
	}

	// Past the window the queue has drained; the tick runs and resets
	// the cadence.
	time.Sleep(70 * time.Millisecond)
	svc.tick()
	if got := backend.pickCount(); got != 2 {
		t.Fatalf("Expected pick after backoff window, got %d", got)
	}
	svc.tick()
	if got := backend.pickCount(); got != 3 {
		t.Fatalf("Expected cadence restored after drain, got %d picks", got)
	}
}

func TestBackoffDelaysDoubleUpToMax(t *testing.T) {
	svc := newTestService(newFakeBackend(&models.RotationPick{}), &fakeScrapers{}, &common.RotationConfig{
		Schedule:    "*/1 * * * * *",
		BackoffBase: "50ms",
		BackoffMax:  "100ms",
	})

	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}
	for i, expected := range want {
		if got := svc.raiseBackoff(); got != expected {
			t.Errorf("Backoff step %d: expected %v, got %v", i, expected, got)
		}
	}

	svc.resetBackoff()
	if got := svc.raiseBackoff(); got != 50*time.Millisecond {
		t.Errorf("Expected reset to restore the base delay, got %v", got)
	}
}

func TestRunOnceCountsDuplicates(t *testing.T) {
	src := testSource("src-a", models.KindGreenhouseBoard)
	backend := newFakeBackend(&models.RotationPick{
		Sources:       []*models.Source{src},
		Pending:       0,
		HighWatermark: 500,
	})
	backend.results = func(postings []*models.JobPosting) []interfaces.EnqueueResult {
		out := make([]interfaces.EnqueueResult, len(postings))
		for i, p := range postings {
			if i == 0 {
				out[i] = interfaces.EnqueueResult{URL: p.URL, Accepted: true}
			} else {
				out[i] = interfaces.EnqueueResult{URL: p.URL, Duplicate: true, Reason: "duplicate"}
			}
		}
		return out
	}
	scrapers := &fakeScrapers{
		byID: map[string]*interfaces.ScrapeResult{
			"src-a": {Postings: []*models.JobPosting{
				{URL: "https://example.com/jobs/1", Title: "Backend Engineer"},
				{URL: "https://example.com/jobs/1", Title: "Backend Engineer"},
			}},
		},
	}

	svc := newTestService(backend, scrapers, nil)
	report, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if report.Enqueued != 1 || report.Duplicates != 1 {
		t.Errorf("Expected 1 enqueued and 1 duplicate, got %+v", report)
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	svc := newTestService(newFakeBackend(&models.RotationPick{}), &fakeScrapers{}, &common.RotationConfig{
		Schedule:    "0 0 3 * * *",
		BackoffBase: "1m",
		BackoffMax:  "30m",
	})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Second start must be a no-op, got %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Second stop must be a no-op, got %v", err)
	}
}
