package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	badgerstore "github.com/ternarybob/peto/internal/storage/badger"
)

// fakeScorer returns canned scores keyed by posting title
type fakeScorer struct {
	scores map[string]int
	err    error
	calls  int
}

func (f *fakeScorer) Name() string { return "keyword" }

func (f *fakeScorer) ScoreJob(ctx context.Context, posting *models.JobPosting, company *models.Company) (*models.ScoreResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	score, ok := f.scores[posting.Title]
	if !ok {
		score = 50
	}
	return &models.ScoreResult{
		Score:         score,
		Priority:      models.PriorityMedium,
		MatchedSkills: []string{"Go"},
		Reasoning:     "test",
	}, nil
}

func (f *fakeScorer) AnalyzeCompany(ctx context.Context, company *models.Company, content string) (*models.CompanyFacts, error) {
	return &models.CompanyFacts{Size: models.SizeUnknown}, nil
}

func (f *fakeScorer) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeScorer) Close() error                          { return nil }

type fakeScorerFactory struct {
	scorer *fakeScorer
}

func (f *fakeScorerFactory) Scorer(ctx context.Context, settings models.AISettings) (interfaces.Scorer, error) {
	return f.scorer, nil
}
func (f *fakeScorerFactory) CostTracker() interfaces.CostTracker { return nil }
func (f *fakeScorerFactory) Close() error                        { return nil }

// fakeFetcher serves detail pages from a map keyed by URL
type fakeFetcher struct {
	postings map[string]*models.JobPosting
	err      error
	calls    int
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, url string, renderJS bool) (*models.JobPosting, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.postings[url]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, models.NewKindError(models.ErrKindScraperFailed, "no detail page", nil)
}

func (f *fakeFetcher) Scrape(ctx context.Context, source *models.Source) (*interfaces.ScrapeResult, error) {
	return nil, fmt.Errorf("not a listing scraper")
}

// fakeEnricher returns canned facts or an error
type fakeEnricher struct {
	facts *models.CompanyFacts
	err   error
	calls int
}

func (f *fakeEnricher) Enrich(ctx context.Context, name, website string) (*models.CompanyFacts, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.facts, nil
}

// settingsStub serves fixed documents
type settingsStub struct {
	stop models.StopList
	ai   models.AISettings
}

func (s *settingsStub) StopList(ctx context.Context) (*models.StopList, error) {
	list := s.stop
	return &list, nil
}
func (s *settingsStub) QueueSettings(ctx context.Context) (*models.QueueSettings, error) {
	qs := models.DefaultQueueSettings()
	return &qs, nil
}
func (s *settingsStub) AISettings(ctx context.Context) (*models.AISettings, error) {
	ai := s.ai
	return &ai, nil
}
func (s *settingsStub) UpdateStopList(ctx context.Context, l *models.StopList) error      { return nil }
func (s *settingsStub) UpdateQueueSettings(ctx context.Context, q *models.QueueSettings) error { return nil }
func (s *settingsStub) UpdateAISettings(ctx context.Context, a *models.AISettings) error  { return nil }
func (s *settingsStub) InvalidateCache()                                                  {}
func (s *settingsStub) Seed(ctx context.Context) error                                    { return nil }

type processorFixture struct {
	storage  interfaces.StorageManager
	scorer   *fakeScorer
	fetcher  *fakeFetcher
	enricher *fakeEnricher
	settings *settingsStub
	service  interfaces.ItemProcessor
}

func newFixture(t *testing.T) *processorFixture {
	t.Helper()

	logger := arbor.NewLogger()
	storage, err := badgerstore.NewManager(logger, &common.StorageConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	f := &processorFixture{
		storage: storage,
		scorer:  &fakeScorer{scores: map[string]int{}},
		fetcher: &fakeFetcher{postings: map[string]*models.JobPosting{}},
		enricher: &fakeEnricher{facts: &models.CompanyFacts{
			About: "Builds rockets",
			Size:  models.SizeMedium,
		}},
		settings: &settingsStub{ai: models.DefaultAISettings()},
	}
	f.settings.ai.MinMatchScore = 60

	f.service = NewService(storage, f.settings, f.fetcher, f.enricher,
		&fakeScorerFactory{scorer: f.scorer}, nil, time.Second, logger)
	return f
}

func jobItem(url string, posting *models.JobPosting) *models.QueueItem {
	canonical := common.CanonicalURL(url)
	item := &models.QueueItem{
		ID:      "item-" + common.HashString(canonical)[:8],
		Type:    models.ItemTypeJob,
		Status:  models.StatusProcessing,
		URL:     canonical,
		URLHash: common.HashString(canonical),
		Source:  models.SourceScraper,
	}
	if posting != nil {
		data, _ := json.Marshal(posting)
		item.ScrapedData = data
	}
	return item
}

func TestProcessJobStoresMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	posting := &models.JobPosting{
		URL:         "https://acme.dev/jobs/1",
		Title:       "Go Engineer",
		CompanyName: "Acme",
		Description: "Build Go services.",
	}
	f.scorer.scores["Go Engineer"] = 85

	item := jobItem("https://acme.dev/jobs/1", posting)
	item.CompanyWebsite = "https://acme.dev"

	msg, err := f.service.Process(ctx, item)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if msg == "" {
		t.Error("Expected a result message")
	}

	match, err := f.storage.MatchStorage().Get(ctx, item.URLHash)
	if err != nil {
		t.Fatalf("Match not stored: %v", err)
	}
	if match.Score != 85 {
		t.Errorf("Score = %d, want 85", match.Score)
	}
	if match.Company.Slug == "" {
		t.Error("Company snapshot missing slug")
	}

	// Company was created and analyzed
	company, err := f.storage.CompanyStorage().Get(ctx, match.Company.Slug)
	if err != nil {
		t.Fatalf("Company not stored: %v", err)
	}
	if company.AnalysisStatus != models.AnalysisComplete {
		t.Errorf("AnalysisStatus = %s, want COMPLETE", company.AnalysisStatus)
	}
	if company.About != "Builds rockets" {
		t.Errorf("About = %q, enrichment facts not merged", company.About)
	}
	if f.fetcher.calls != 0 {
		t.Errorf("Detail fetch called %d times for a complete posting", f.fetcher.calls)
	}
}

func TestProcessJobBelowThresholdSkips(t *testing.T) {
	f := newFixture(t)

	posting := &models.JobPosting{
		URL:         "https://acme.dev/jobs/2",
		Title:       "Sales Rep",
		CompanyName: "Acme",
		Description: "Sell things.",
	}
	f.scorer.scores["Sales Rep"] = 20

	_, err := f.service.Process(context.Background(), jobItem("https://acme.dev/jobs/2", posting))
	if models.KindOf(err) != models.ErrKindBelowThreshold {
		t.Fatalf("KindOf(err) = %v, want BELOW_THRESHOLD", models.KindOf(err))
	}

	// No match persisted
	if _, getErr := f.storage.MatchStorage().Get(context.Background(), common.HashString(common.CanonicalURL("https://acme.dev/jobs/2"))); !models.IsNotFound(getErr) {
		t.Error("Below-threshold posting must not be stored as a match")
	}
}

func TestProcessJobFetchesSparseDetail(t *testing.T) {
	f := newFixture(t)

	url := common.CanonicalURL("https://acme.dev/jobs/3")
	f.fetcher.postings[url] = &models.JobPosting{
		URL:         url,
		Title:       "Platform Engineer",
		CompanyName: "Acme",
		Description: "Kubernetes and Go.",
	}
	f.scorer.scores["Platform Engineer"] = 75

	// No scraped data: detail fetch required
	msg, err := f.service.Process(context.Background(), jobItem("https://acme.dev/jobs/3", nil))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if f.fetcher.calls != 1 {
		t.Errorf("Detail fetch calls = %d, want 1", f.fetcher.calls)
	}
	if msg == "" {
		t.Error("Expected a result message")
	}
}

func TestProcessJobDetailFailureRetryable(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = models.NewKindError(models.ErrKindNetwork, "connection refused", nil)

	_, err := f.service.Process(context.Background(), jobItem("https://acme.dev/jobs/4", nil))
	if models.KindOf(err) != models.ErrKindNetwork {
		t.Fatalf("KindOf(err) = %v, want NETWORK", models.KindOf(err))
	}
	if !models.KindOf(err).IsRetryable() {
		t.Error("Network failure must be retryable")
	}
}

func TestProcessJobStopListRecheck(t *testing.T) {
	f := newFixture(t)
	f.settings.stop = models.StopList{ExcludedKeywords: []string{"gambling"}}

	posting := &models.JobPosting{
		URL:         "https://acme.dev/jobs/5",
		Title:       "Go Engineer",
		CompanyName: "Acme",
		Description: "Build gambling platforms in Go.",
	}

	_, err := f.service.Process(context.Background(), jobItem("https://acme.dev/jobs/5", posting))
	if models.KindOf(err) != models.ErrKindStopListed {
		t.Fatalf("KindOf(err) = %v, want STOP_LISTED", models.KindOf(err))
	}
	if f.scorer.calls != 0 {
		t.Error("Stop-listed posting must not reach the scorer")
	}
}

func TestProcessJobEnrichFailureDoesNotFailItem(t *testing.T) {
	f := newFixture(t)
	f.enricher.err = errors.New("site unreachable")

	posting := &models.JobPosting{
		URL:         "https://acme.dev/jobs/6",
		Title:       "Go Engineer",
		CompanyName: "Acme",
		Description: "Go services.",
	}
	f.scorer.scores["Go Engineer"] = 90

	item := jobItem("https://acme.dev/jobs/6", posting)
	item.CompanyWebsite = "https://acme.dev"

	if _, err := f.service.Process(context.Background(), item); err != nil {
		t.Fatalf("Enrichment failure must not fail the job item: %v", err)
	}

	// Company record exists with FAILED analysis and minimal data
	slug := models.CompanySlug("Acme", "https://acme.dev")
	company, err := f.storage.CompanyStorage().Get(context.Background(), slug)
	if err != nil {
		t.Fatalf("Company record missing: %v", err)
	}
	if company.AnalysisStatus != models.AnalysisFailed {
		t.Errorf("AnalysisStatus = %s, want FAILED", company.AnalysisStatus)
	}
}

func TestProcessCompanyItem(t *testing.T) {
	f := newFixture(t)

	item := &models.QueueItem{
		ID:          "company-1",
		Type:        models.ItemTypeCompany,
		Status:      models.StatusProcessing,
		URL:         "company://acme-acme-dev",
		URLHash:     common.HashString("company://acme-acme-dev"),
		CompanyName: "Acme",
		Source:      models.SourceUserSubmission,
	}
	item.CompanyWebsite = "https://acme.dev"

	msg, err := f.service.Process(context.Background(), item)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if msg == "" {
		t.Error("Expected a result message")
	}
	if f.scorer.calls != 0 {
		t.Error("Company items must not be scored")
	}

	slug := models.CompanySlug("Acme", "https://acme.dev")
	company, err := f.storage.CompanyStorage().Get(context.Background(), slug)
	if err != nil {
		t.Fatalf("Company record missing: %v", err)
	}
	if company.Size != models.SizeMedium {
		t.Errorf("Size = %s, want MEDIUM from enrichment", company.Size)
	}
}

func TestProcessCompanyEnrichFailureFailsItem(t *testing.T) {
	f := newFixture(t)
	f.enricher.err = errors.New("site unreachable")

	item := &models.QueueItem{
		ID:             "company-2",
		Type:           models.ItemTypeCompany,
		Status:         models.StatusProcessing,
		URL:            "company://acme-acme-dev",
		URLHash:        common.HashString("company://acme-acme-dev"),
		CompanyName:    "Acme",
		CompanyWebsite: "https://acme.dev",
		Source:         models.SourceUserSubmission,
	}

	_, err := f.service.Process(context.Background(), item)
	if err == nil {
		t.Fatal("Company item must fail when enrichment fails")
	}
	if !models.KindOf(err).IsRetryable() {
		t.Errorf("KindOf(err) = %v, expected a retryable kind", models.KindOf(err))
	}
}

func TestProcessJobReusesAnalyzedCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	posting := &models.JobPosting{
		URL:         "https://acme.dev/jobs/7",
		Title:       "Go Engineer",
		CompanyName: "Acme",
		Description: "Go services.",
	}
	f.scorer.scores["Go Engineer"] = 80

	first := jobItem("https://acme.dev/jobs/7", posting)
	first.CompanyWebsite = "https://acme.dev"
	if _, err := f.service.Process(ctx, first); err != nil {
		t.Fatalf("First process failed: %v", err)
	}

	second := jobItem("https://acme.dev/jobs/8", &models.JobPosting{
		URL:         "https://acme.dev/jobs/8",
		Title:       "Go Engineer",
		CompanyName: "Acme",
		Description: "More Go services.",
	})
	second.CompanyWebsite = "https://acme.dev"
	if _, err := f.service.Process(ctx, second); err != nil {
		t.Fatalf("Second process failed: %v", err)
	}

	if f.enricher.calls != 1 {
		t.Errorf("Enrich calls = %d, want 1 (completed analysis is reused)", f.enricher.calls)
	}
}
