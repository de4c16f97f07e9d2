package interfaces

import (
	"context"

	"github.com/ternarybob/peto/internal/models"
)

// Scorer evaluates job postings against the candidate profile and
// analyzes companies. Implementations may use cloud LLM APIs (Claude,
// Gemini) or the offline keyword matcher.
type Scorer interface {
	// Name identifies the provider ("claude", "gemini" or "keyword").
	Name() string

	// ScoreJob evaluates a posting against the profile and returns a
	// 0-100 score with priority and skill breakdown.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - posting: Parsed job posting to evaluate
	//   - company: Company snapshot for context, may be nil
	//
	// Returns:
	//   - *models.ScoreResult: Score, priority and matched/missing skills
	//   - error: Error if scoring fails
	ScoreJob(ctx context.Context, posting *models.JobPosting, company *models.Company) (*models.ScoreResult, error)

	// AnalyzeCompany extracts company facts from scraped page content.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - company: Company record under analysis
	//   - content: Scraped page text (markdown)
	//
	// Returns:
	//   - *models.CompanyFacts: Extracted about/mission/culture fields
	//   - error: Error if analysis fails
	AnalyzeCompany(ctx context.Context, company *models.Company, content string) (*models.CompanyFacts, error)

	// HealthCheck verifies the provider is operational.
	HealthCheck(ctx context.Context) error

	// Close releases resources and performs cleanup operations.
	Close() error
}

// ScorerFactory resolves the scorer provider selected by the ai-settings
// document, building and caching provider clients as needed.
type ScorerFactory interface {
	// Scorer returns the provider for the given settings. A provider
	// that cannot be built falls back to the offline keyword scorer.
	Scorer(ctx context.Context, settings models.AISettings) (Scorer, error)

	// CostTracker exposes the shared daily spend counter.
	CostTracker() CostTracker

	// Close shuts down every cached provider.
	Close() error
}

// CostTracker enforces the daily spend budget for paid scorer providers
type CostTracker interface {
	// Allow reports whether another call fits within today's budget.
	Allow() bool

	// Record adds the estimated cost of a completed call.
	Record(inputTokens, outputTokens int)

	// SpentToday returns the running total in dollars.
	SpentToday() float64
}
