package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// Service routes each source to the adapter registered for its kind.
// All adapters share one HTTP layer so politeness limits hold across
// kinds hitting the same host.
type Service struct {
	adapters map[models.SourceKind]interfaces.ScraperAdapter
	detail   *DetailScraper
	logger   arbor.ILogger
}

// NewService builds the adapter registry. renderer may be nil; sources
// that request render_js then degrade to plain fetches.
func NewService(cfg common.ScraperConfig, renderer interfaces.Renderer, logger arbor.ILogger) interfaces.ScraperService {
	f := newFetcher(cfg, logger)

	adapters := make(map[models.SourceKind]interfaces.ScraperAdapter)
	for _, adapter := range []interfaces.ScraperAdapter{
		NewGreenhouseAdapter(f, logger),
		NewRSSAdapter(f, logger),
		NewCareersAdapter(f, renderer, logger),
	} {
		adapters[adapter.Kind()] = adapter
	}

	return &Service{
		adapters: adapters,
		detail:   NewDetailScraper(f, renderer, logger),
		logger:   logger,
	}
}

// Scrape runs the source through its adapter. Postings come back with
// the company name stamped so intake can resolve the company record.
func (s *Service) Scrape(ctx context.Context, source *models.Source) (*interfaces.ScrapeResult, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}

	adapter, ok := s.adapters[source.Kind]
	if !ok {
		return nil, models.NewKindError(models.ErrKindScraperFailed, fmt.Sprintf("no adapter registered for kind %q", source.Kind), nil)
	}

	start := time.Now()
	result, err := adapter.Scrape(ctx, source)
	if err != nil {
		s.logger.Warn().
			Str("source_id", source.SourceID).
			Str("kind", string(source.Kind)).
			Err(err).
			Msg("Scrape failed")
		return nil, err
	}

	for _, posting := range result.Postings {
		if posting.CompanyName == "" {
			posting.CompanyName = source.CompanyName
		}
	}

	s.logger.Info().
		Str("source_id", source.SourceID).
		Str("kind", string(source.Kind)).
		Int("postings", len(result.Postings)).
		Dur("duration", time.Since(start)).
		Msg("Scrape finished")

	return result, nil
}

// FetchDetail fetches one posting page through the shared detail scraper
func (s *Service) FetchDetail(ctx context.Context, url string, renderJS bool) (*models.JobPosting, error) {
	return s.detail.FetchDetail(ctx, url, renderJS)
}
