package models

import (
	"fmt"
	"time"
)

// SourceKind selects the scraper adapter for a source
type SourceKind string

const (
	KindGreenhouseBoard SourceKind = "greenhouse-board"
	KindRSS             SourceKind = "rss"
	KindCareersPage     SourceKind = "careers-page"
)

// SourceAttempt is one scrape outcome in a source's recent history. The
// bounded ring of attempts feeds both the health score and the company
// scrape-rate derivation.
type SourceAttempt struct {
	At time.Time `json:"at"`
	OK bool      `json:"ok"`
}

// AttemptHistoryCap bounds the recent-attempt ring kept on each source
const AttemptHistoryCap = 50

// HealthWindow is how many recent attempts feed the health score EWMA
const HealthWindow = 20

// scrapeRateWindowDays is the lookback for deriving a source's scrape rate
const scrapeRateWindowDays = 30

// Source is one row in the job-sources collection: a single scraping
// endpoint belonging to a company.
type Source struct {
	SourceID       string          `json:"source_id" badgerhold:"key"`
	CompanyID      string          `json:"company_id" badgerhold:"index"`
	CompanyName    string          `json:"company_name,omitempty"`
	Kind           SourceKind      `json:"kind"`
	Enabled        bool            `json:"enabled"`
	Tier           Tier            `json:"tier"`
	BaseURL        string          `json:"base_url"`
	RenderJS       bool            `json:"render_js,omitempty"`
	LastScrapedAt  *time.Time      `json:"last_scraped_at,omitempty"`
	LastDurationMS int64           `json:"last_scrape_duration_ms"`
	SuccessCount   int64           `json:"success_count"`
	FailureCount   int64           `json:"failure_count"`
	TotalJobsFound int64           `json:"total_jobs_found"`
	HealthScore    float64         `json:"health_score"`
	RecentAttempts []SourceAttempt `json:"recent_attempts,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks the fields the registry requires before persisting
func (s *Source) Validate() error {
	if s.SourceID == "" {
		return fmt.Errorf("source_id is required")
	}
	switch s.Kind {
	case KindGreenhouseBoard, KindRSS, KindCareersPage:
	default:
		return fmt.Errorf("unknown source kind: %s", s.Kind)
	}
	if s.BaseURL == "" {
		return fmt.Errorf("source %s: base_url is required", s.SourceID)
	}
	return nil
}

// RecordAttempt appends an outcome to the bounded ring, dropping the
// oldest entries once the cap is reached.
func (s *Source) RecordAttempt(at time.Time, ok bool) {
	s.RecentAttempts = append(s.RecentAttempts, SourceAttempt{At: at, OK: ok})
	if len(s.RecentAttempts) > AttemptHistoryCap {
		s.RecentAttempts = s.RecentAttempts[len(s.RecentAttempts)-AttemptHistoryCap:]
	}
}

// RecalcHealth recomputes the health score as an EWMA over the newest
// HealthWindow attempts, oldest first, with alpha = 2/(N+1). A source
// with no history scores 1.0 so new sources are tried before degraded
// ones are retried.
func (s *Source) RecalcHealth() {
	attempts := s.RecentAttempts
	if len(attempts) > HealthWindow {
		attempts = attempts[len(attempts)-HealthWindow:]
	}
	if len(attempts) == 0 {
		s.HealthScore = 1.0
		return
	}

	alpha := 2.0 / float64(HealthWindow+1)
	score := 1.0
	for _, a := range attempts {
		x := 0.0
		if a.OK {
			x = 1.0
		}
		score = alpha*x + (1-alpha)*score
	}
	s.HealthScore = score
}

// ScrapesPerDay derives this source's recent scrape rate from the attempt
// ring over a 30 day window. Summed per company, it is the rotation key's
// load-balancing term.
func (s *Source) ScrapesPerDay(now time.Time) float64 {
	cutoff := now.AddDate(0, 0, -scrapeRateWindowDays)
	n := 0
	for _, a := range s.RecentAttempts {
		if a.At.After(cutoff) {
			n++
		}
	}
	return float64(n) / float64(scrapeRateWindowDays)
}

// LastScrapedOrEpoch treats never-scraped sources as scraped at the epoch
// so rotation ordering can compare them uniformly.
func (s *Source) LastScrapedOrEpoch() time.Time {
	if s.LastScrapedAt == nil {
		return time.Time{}
	}
	return *s.LastScrapedAt
}

// SourceAttemptResult carries everything a finished scrape reports back
// to the source registry.
type SourceAttemptResult struct {
	At        time.Time     `json:"at"`
	OK        bool          `json:"ok"`
	Duration  time.Duration `json:"duration"`
	JobsFound int           `json:"jobs_found"`
	Error     string        `json:"error,omitempty"`
}

// RotationReport summarizes one rotation run
type RotationReport struct {
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Backpressure  bool      `json:"backpressure"`
	SourcesPicked int       `json:"sources_picked"`
	SourcesOK     int       `json:"sources_ok"`
	SourcesFailed int       `json:"sources_failed"`
	PostingsFound int       `json:"postings_found"`
	Enqueued      int       `json:"enqueued"`
	Duplicates    int       `json:"duplicates"`
}

// RotationPick is one pick response: the sources to scrape next plus
// the queue depth the driver needs for its backpressure decision.
type RotationPick struct {
	Sources       []*Source `json:"sources"`
	Pending       int       `json:"pending"`
	HighWatermark int       `json:"high_watermark"`
}

// Backpressure reports whether the queue is too deep to feed further.
func (p *RotationPick) Backpressure() bool {
	return p.HighWatermark > 0 && p.Pending > p.HighWatermark
}
