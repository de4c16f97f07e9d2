package sources

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// fakeSourceStore is an in-memory SourceStorage that folds attempts the
// same way the badger gateway does.
type fakeSourceStore struct {
	mu      sync.Mutex
	sources map[string]*models.Source
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{sources: make(map[string]*models.Source)}
}

func (f *fakeSourceStore) Save(ctx context.Context, source *models.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *source
	f.sources[source.SourceID] = &clone
	return nil
}

func (f *fakeSourceStore) Get(ctx context.Context, sourceID string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[sourceID]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *source
	return &clone, nil
}

func (f *fakeSourceStore) List(ctx context.Context) ([]*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Source, 0, len(f.sources))
	for _, source := range f.sources {
		clone := *source
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (f *fakeSourceStore) ListEnabled(ctx context.Context) ([]*models.Source, error) {
	all, _ := f.List(ctx)
	out := all[:0]
	for _, source := range all {
		if source.Enabled {
			out = append(out, source)
		}
	}
	return out, nil
}

func (f *fakeSourceStore) ListByCompany(ctx context.Context, companyID string) ([]*models.Source, error) {
	all, _ := f.List(ctx)
	out := all[:0]
	for _, source := range all {
		if source.CompanyID == companyID {
			out = append(out, source)
		}
	}
	return out, nil
}

func (f *fakeSourceStore) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources), nil
}

func (f *fakeSourceStore) Delete(ctx context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sources, sourceID)
	return nil
}

func (f *fakeSourceStore) RecordAttempt(ctx context.Context, sourceID string, at time.Time, ok bool, duration time.Duration, jobsFound int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, found := f.sources[sourceID]
	if !found {
		return models.ErrNotFound
	}
	source.RecordAttempt(at, ok)
	source.RecalcHealth()
	if ok {
		source.SuccessCount++
	} else {
		source.FailureCount++
	}
	source.TotalJobsFound += int64(jobsFound)
	scraped := at
	source.LastScrapedAt = &scraped
	source.LastDurationMS = duration.Milliseconds()
	source.UpdatedAt = time.Now()
	return nil
}

func newTestService(t *testing.T) (interfaces.SourceService, *fakeSourceStore) {
	t.Helper()
	store := newFakeSourceStore()
	return NewService(store, nil, arbor.NewLogger()), store
}

func testSource(id, companyID string) *models.Source {
	return &models.Source{
		SourceID:    id,
		CompanyID:   companyID,
		CompanyName: companyID,
		Kind:        models.KindGreenhouseBoard,
		Enabled:     true,
		Tier:        models.TierA,
		BaseURL:     "https://boards.example.com/" + id,
	}
}

func TestEnsureSourceCreatesWithDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	source := testSource("acme-board", "acme")
	source.Tier = ""
	if err := svc.EnsureSource(ctx, source); err != nil {
		t.Fatalf("Failed to ensure source: %v", err)
	}

	got, err := svc.Get(ctx, "acme-board")
	if err != nil {
		t.Fatalf("Failed to get source: %v", err)
	}
	if got.HealthScore != 1.0 {
		t.Errorf("Expected new source health 1.0, got %f", got.HealthScore)
	}
	if got.Tier != models.TierC {
		t.Errorf("Expected default tier C, got %s", got.Tier)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
}

func TestEnsureSourcePreservesRuntimeState(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureSource(ctx, testSource("acme-board", "acme")); err != nil {
		t.Fatalf("Failed to ensure source: %v", err)
	}

	// Record some history, then re-register with changed configuration
	if err := store.RecordAttempt(ctx, "acme-board", time.Now(), true, 2*time.Second, 7); err != nil {
		t.Fatalf("Failed to record attempt: %v", err)
	}

	update := testSource("acme-board", "acme")
	update.Tier = models.TierS
	update.BaseURL = "https://boards.example.com/acme-v2"
	if err := svc.EnsureSource(ctx, update); err != nil {
		t.Fatalf("Failed to update source: %v", err)
	}

	got, err := svc.Get(ctx, "acme-board")
	if err != nil {
		t.Fatalf("Failed to get source: %v", err)
	}
	if got.Tier != models.TierS || got.BaseURL != "https://boards.example.com/acme-v2" {
		t.Errorf("Expected configuration update applied, got %+v", got)
	}
	if got.SuccessCount != 1 || got.TotalJobsFound != 7 {
		t.Errorf("Expected counters preserved across update, got %+v", got)
	}
	if len(got.RecentAttempts) != 1 {
		t.Errorf("Expected attempt history preserved, got %d entries", len(got.RecentAttempts))
	}
}

func TestEnsureSourceRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bad := testSource("bad", "acme")
	bad.Kind = "ftp-dropbox"
	if err := svc.EnsureSource(ctx, bad); err == nil {
		t.Fatal("Expected validation error for unknown kind")
	}
}

func TestRecordResultUpdatesHealth(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureSource(ctx, testSource("acme-board", "acme")); err != nil {
		t.Fatalf("Failed to ensure source: %v", err)
	}

	for i := 0; i < 5; i++ {
		result := &models.SourceAttemptResult{OK: false, Duration: time.Second, Error: "HTTP 403"}
		if err := svc.RecordResult(ctx, "acme-board", result); err != nil {
			t.Fatalf("Failed to record result: %v", err)
		}
	}

	got, err := svc.Get(ctx, "acme-board")
	if err != nil {
		t.Fatalf("Failed to get source: %v", err)
	}
	if got.HealthScore >= 1.0 {
		t.Errorf("Expected degraded health after failures, got %f", got.HealthScore)
	}
	if got.FailureCount != 5 {
		t.Errorf("Expected failure_count 5, got %d", got.FailureCount)
	}
	if got.LastScrapedAt == nil {
		t.Error("Expected last_scraped_at set by attempts")
	}
}

func TestPickRotationOrdersByKey(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	yesterday := time.Now().Add(-24 * time.Hour)

	// a: degraded health, sorts last despite its tier
	a := testSource("a-board", "alpha")
	a.Tier = models.TierS
	a.HealthScore = 0.4
	a.LastScrapedAt = &yesterday

	// b: healthy but scraped yesterday
	b := testSource("b-board", "bravo")
	b.HealthScore = 0.9
	b.LastScrapedAt = &yesterday

	// c: healthy and never scraped, so it sorts before b
	c := testSource("c-board", "charlie")
	c.HealthScore = 0.9

	for _, source := range []*models.Source{a, b, c} {
		if err := store.Save(ctx, source); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	picked, err := svc.PickRotation(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to pick rotation: %v", err)
	}
	if len(picked) != 2 {
		t.Fatalf("Expected 2 picked, got %d", len(picked))
	}
	if picked[0].SourceID != "c-board" || picked[1].SourceID != "b-board" {
		t.Errorf("Expected [c-board b-board], got [%s %s]", picked[0].SourceID, picked[1].SourceID)
	}

	// Same snapshot yields the same order
	again, err := svc.PickRotation(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to re-pick rotation: %v", err)
	}
	for i := range picked {
		if picked[i].SourceID != again[i].SourceID {
			t.Errorf("Rotation pick must be deterministic, run 1 %s vs run 2 %s", picked[i].SourceID, again[i].SourceID)
		}
	}
}

func TestPickRotationBreaksHealthTiesByTier(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	sTier := testSource("s-board", "alpha")
	sTier.Tier = models.TierS
	bTier := testSource("a-board", "bravo")
	bTier.Tier = models.TierB
	for _, source := range []*models.Source{bTier, sTier} {
		source.HealthScore = 1.0
		if err := store.Save(ctx, source); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	picked, err := svc.PickRotation(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to pick rotation: %v", err)
	}
	if picked[0].SourceID != "s-board" {
		t.Errorf("Expected tier S first, got %s", picked[0].SourceID)
	}
}

func TestPickRotationFavorsLessScrapedCompany(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)

	// Both sources were last scraped at the same instant with equal
	// health and tier; busy's company has accumulated far more attempts.
	busy := testSource("busy-board", "busy-co")
	quiet := testSource("quiet-board", "quiet-co")
	for _, source := range []*models.Source{busy, quiet} {
		source.HealthScore = 1.0
		source.LastScrapedAt = &base
	}
	for i := 0; i < 20; i++ {
		busy.RecentAttempts = append(busy.RecentAttempts, models.SourceAttempt{At: base, OK: true})
	}
	quiet.RecentAttempts = []models.SourceAttempt{{At: base, OK: true}}

	for _, source := range []*models.Source{busy, quiet} {
		if err := store.Save(ctx, source); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	picked, err := svc.PickRotation(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to pick rotation: %v", err)
	}
	if picked[0].SourceID != "quiet-board" {
		t.Errorf("Expected less-scraped company first, got %s", picked[0].SourceID)
	}
}

func TestPickRotationSkipsDisabled(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	enabled := testSource("on-board", "alpha")
	disabled := testSource("off-board", "bravo")
	disabled.Enabled = false
	for _, source := range []*models.Source{enabled, disabled} {
		if err := store.Save(ctx, source); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	picked, err := svc.PickRotation(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to pick rotation: %v", err)
	}
	if len(picked) != 1 || picked[0].SourceID != "on-board" {
		t.Errorf("Expected only the enabled source, got %+v", picked)
	}
}

func TestSetEnabled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureSource(ctx, testSource("acme-board", "acme")); err != nil {
		t.Fatalf("Failed to ensure source: %v", err)
	}
	if err := svc.SetEnabled(ctx, "acme-board", false); err != nil {
		t.Fatalf("Failed to disable: %v", err)
	}

	got, err := svc.Get(ctx, "acme-board")
	if err != nil {
		t.Fatalf("Failed to get source: %v", err)
	}
	if got.Enabled {
		t.Error("Expected source disabled")
	}

	if err := svc.SetEnabled(ctx, "missing", true); !models.IsNotFound(err) {
		t.Errorf("Expected not-found for unknown source, got %v", err)
	}
}
