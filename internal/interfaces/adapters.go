package interfaces

import (
	"context"

	"github.com/ternarybob/peto/internal/models"
)

// ScrapeResult is what one adapter run produced
type ScrapeResult struct {
	Postings []*models.JobPosting
	// RenderedJS is true when the page went through the headless browser.
	RenderedJS bool
}

// ScraperAdapter lists job postings from one source kind. Adapters
// return summary postings; the detail fetcher fills sparse ones.
type ScraperAdapter interface {
	// Kind returns the source kind this adapter handles.
	Kind() models.SourceKind

	// Scrape lists postings from the source.
	Scrape(ctx context.Context, source *models.Source) (*ScrapeResult, error)
}

// DetailFetcher fetches and parses a single job posting page. Used when
// a queued item has no scraped_data or the listing was sparse.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, url string, renderJS bool) (*models.JobPosting, error)
}

// ScraperService dispatches scrapes to the adapter registered for the
// source's kind and exposes the shared detail fetcher.
type ScraperService interface {
	DetailFetcher
	Scrape(ctx context.Context, source *models.Source) (*ScrapeResult, error)
}

// CompanyEnricher distills public facts about a company from its
// website. The processor bounds calls with the company analysis timeout
// and falls back to minimal data when enrichment fails.
type CompanyEnricher interface {
	Enrich(ctx context.Context, name, website string) (*models.CompanyFacts, error)
}

// Renderer loads a page in a headless browser and returns its HTML
// after JavaScript execution.
type Renderer interface {
	RenderHTML(ctx context.Context, url string) (string, error)
	Close() error
}

// JobSubmission is one ingest candidate before canonicalization
type JobSubmission struct {
	URL         string
	CompanyName string
	Website     string
	Source      models.ItemSource
	SubmittedBy string
	// Posting carries scraper output when the submitter already has it.
	Posting *models.JobPosting
}

// IntakeService accepts job URLs from all entry points (webhook, API,
// scrapers, email) and funnels them through the stop list, dedup and
// enqueue steps.
type IntakeService interface {
	// SubmitJob funnels one candidate into the queue.
	SubmitJob(ctx context.Context, sub *JobSubmission) (*EnqueueResult, error)

	// SubmitBatch funnels many postings, e.g. one rotation's scrape
	// output. Results are positional.
	SubmitBatch(ctx context.Context, postings []*models.JobPosting, source models.ItemSource) ([]EnqueueResult, error)

	// SubmitCompany enqueues a COMPANY analysis item.
	SubmitCompany(ctx context.Context, companyName, website string) (*EnqueueResult, error)
}

// SourceService manages the scrape source registry and health scores
type SourceService interface {
	EnsureSource(ctx context.Context, source *models.Source) error
	Get(ctx context.Context, sourceID string) (*models.Source, error)
	List(ctx context.Context) ([]*models.Source, error)
	SetEnabled(ctx context.Context, sourceID string, enabled bool) error

	// LoadFromDir seeds the registry from source definition TOML files
	// at startup.
	LoadFromDir(ctx context.Context, dir string) error

	// RecordResult folds a scrape attempt into the source's history,
	// health score and counters.
	RecordResult(ctx context.Context, sourceID string, result *models.SourceAttemptResult) error

	// PickRotation returns the next batch of sources to scrape, ordered
	// by the rotation key.
	PickRotation(ctx context.Context, k int) ([]*models.Source, error)
}

// RotationBackend is the pipeline surface one rotation run drives:
// picks, scrape submission and health reporting. The worker process
// implements it directly over its services; the rotation binary
// implements it over the worker's HTTP API.
type RotationBackend interface {
	// PickRotation returns the next k sources plus the queue depth the
	// driver's backpressure check needs.
	PickRotation(ctx context.Context, k int) (*models.RotationPick, error)

	// RecordResult reports one finished scrape attempt.
	RecordResult(ctx context.Context, sourceID string, result *models.SourceAttemptResult) error

	// SubmitPostings funnels one rotation's scraper output into intake.
	SubmitPostings(ctx context.Context, postings []*models.JobPosting) ([]EnqueueResult, error)
}

// RotationService runs scheduled source rotations
type RotationService interface {
	Start() error
	Stop() error

	// RunOnce executes a single rotation outside the schedule.
	RunOnce(ctx context.Context) (*models.RotationReport, error)
}
