package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/services/events"
)

// defaultAnalysisTimeout bounds the company enrichment stage so one slow
// website cannot eat an item's whole lease.
const defaultAnalysisTimeout = 300 * time.Second

// Service runs the per-item pipeline: company resolution, detail scrape,
// stop-list re-check, scoring, threshold and match persistence. Outcomes
// are conveyed through classified errors; the queue manager decides
// whether the item retries, skips or fails from the error kind.
type Service struct {
	storage         interfaces.StorageManager
	settings        interfaces.SettingsService
	scrapers        interfaces.ScraperService
	enricher        interfaces.CompanyEnricher
	scorers         interfaces.ScorerFactory
	events          interfaces.EventService
	logger          arbor.ILogger
	analysisTimeout time.Duration
}

// NewService creates the item processor
func NewService(
	storage interfaces.StorageManager,
	settings interfaces.SettingsService,
	scrapers interfaces.ScraperService,
	enricher interfaces.CompanyEnricher,
	scorers interfaces.ScorerFactory,
	events interfaces.EventService,
	analysisTimeout time.Duration,
	logger arbor.ILogger,
) interfaces.ItemProcessor {
	if analysisTimeout <= 0 {
		analysisTimeout = defaultAnalysisTimeout
	}
	return &Service{
		storage:         storage,
		settings:        settings,
		scrapers:        scrapers,
		enricher:        enricher,
		scorers:         scorers,
		events:          events,
		logger:          logger,
		analysisTimeout: analysisTimeout,
	}
}

// Process handles one claimed queue item
func (s *Service) Process(ctx context.Context, item *models.QueueItem) (string, error) {
	switch item.Type {
	case models.ItemTypeJob:
		return s.processJob(ctx, item)
	case models.ItemTypeCompany:
		return s.processCompany(ctx, item)
	default:
		return "", models.NewKindError(models.ErrKindInternal,
			fmt.Sprintf("unknown item type %q", item.Type), nil)
	}
}

// processJob runs the full pipeline for a JOB item
func (s *Service) processJob(ctx context.Context, item *models.QueueItem) (string, error) {
	posting := decodePosting(item)

	companyName := item.CompanyName
	if posting != nil && posting.CompanyName != "" {
		companyName = posting.CompanyName
	}

	// Company failures never fail the job item; the pipeline scores with
	// whatever company context it has.
	company, err := s.ensureCompany(ctx, companyName, item.CompanyWebsite, false)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("item_id", item.ID).
			Str("company", companyName).
			Msg("Company enrichment failed, scoring without company context")
	}

	if posting == nil || posting.IsSparse() {
		fetched, err := s.scrapers.FetchDetail(ctx, item.URL, false)
		if err != nil {
			return "", err
		}
		posting = mergePosting(posting, fetched)
	}
	if posting.CompanyName == "" {
		posting.CompanyName = companyName
	}

	// Stop list re-check: the detail scrape may have surfaced an excluded
	// company or keyword that intake could not see.
	if reason, listed := s.stopList(ctx).Match(companyName,
		posting.Title+" "+posting.Description, common.HostOf(item.URL)); listed {
		return "", models.NewKindError(models.ErrKindStopListed, "stop_listed:"+reason, nil)
	}

	aiSettings := s.aiSettings(ctx)
	scorer, err := s.scorers.Scorer(ctx, aiSettings)
	if err != nil {
		return "", models.NewKindError(models.ErrKindLLMFailed, "no scorer available", err)
	}

	result, err := scorer.ScoreJob(ctx, posting, company)
	if err != nil {
		return "", err
	}

	if result.Score < aiSettings.MinMatchScore {
		return "", models.NewKindError(models.ErrKindBelowThreshold,
			fmt.Sprintf("below_threshold:%d<%d", result.Score, aiSettings.MinMatchScore), nil)
	}

	match := buildMatch(item, posting, company, result)
	stored, err := s.storage.MatchStorage().SaveIfBetter(ctx, match)
	if err != nil {
		return "", err
	}

	if stored {
		s.publishMatch(ctx, match)
	}

	s.logger.Info().
		Str("item_id", item.ID).
		Str("url", item.URL).
		Int("score", result.Score).
		Str("priority", string(result.Priority)).
		Bool("stored", stored).
		Msg("Job item scored")

	return fmt.Sprintf("scored %d (%s) by %s", result.Score, result.Priority, scorer.Name()), nil
}

// processCompany runs the company stage only. Unlike the job path, an
// enrichment failure here is the item's failure and enters the retry
// policy.
func (s *Service) processCompany(ctx context.Context, item *models.QueueItem) (string, error) {
	if item.CompanyName == "" {
		return "", models.NewKindError(models.ErrKindInternal, "company item without company_name", nil)
	}

	company, err := s.ensureCompany(ctx, item.CompanyName, item.CompanyWebsite, true)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("company %s analyzed (%s)", company.Slug, company.AnalysisStatus), nil
}

// ensureCompany resolves the company record, running enrichment when the
// record is new or still pending. refresh forces a re-analysis even for
// records that already completed or failed. The stored record is
// returned even when enrichment fails so callers can proceed with
// minimal data.
func (s *Service) ensureCompany(ctx context.Context, name, website string, refresh bool) (*models.Company, error) {
	slug := models.CompanySlug(name, website)
	if slug == "" {
		return nil, nil
	}

	companies := s.storage.CompanyStorage()

	existing, err := companies.Get(ctx, slug)
	if err != nil && !models.IsNotFound(err) {
		return nil, err
	}

	if existing != nil && !refresh {
		switch existing.AnalysisStatus {
		case models.AnalysisComplete, models.AnalysisFailed:
			// Re-analysis happens through COMPANY items, not as a side
			// effect of every job that names the company.
			return existing, nil
		case models.AnalysisAnalyzing:
			// Another worker owns the analysis right now.
			return existing, nil
		}
	}

	stored, _, err := companies.Merge(ctx, &models.Company{
		Slug:           slug,
		Name:           name,
		Website:        website,
		Size:           models.SizeUnknown,
		AnalysisStatus: models.AnalysisPending,
	})
	if err != nil {
		return nil, err
	}

	if err := companies.SetAnalysisStatus(ctx, slug, models.AnalysisAnalyzing, nil); err != nil {
		return stored, err
	}

	enrichCtx, cancel := context.WithTimeout(ctx, s.analysisTimeout)
	defer cancel()

	facts, enrichErr := s.enricher.Enrich(enrichCtx, name, stored.Website)
	if enrichErr != nil {
		if statusErr := companies.SetAnalysisStatus(ctx, slug, models.AnalysisFailed, nil); statusErr != nil {
			s.logger.Warn().Err(statusErr).Str("slug", slug).Msg("Failed to record analysis failure")
		}
		stored.AnalysisStatus = models.AnalysisFailed
		return stored, classifyEnrichError(enrichErr)
	}

	merged, _, err := companies.Merge(ctx, &models.Company{
		Slug:         slug,
		Name:         name,
		Website:      stored.Website,
		About:        facts.About,
		Mission:      facts.Mission,
		Culture:      facts.Culture,
		Size:         facts.Size,
		Headquarters: facts.Headquarters,
	})
	if err != nil {
		return stored, err
	}

	now := time.Now().UTC()
	if err := companies.SetAnalysisStatus(ctx, slug, models.AnalysisComplete, &now); err != nil {
		return merged, err
	}
	merged.AnalysisStatus = models.AnalysisComplete
	merged.AnalyzedAt = &now

	s.logger.Info().
		Str("slug", slug).
		Str("size", string(merged.Size)).
		Msg("Company analyzed")

	return merged, nil
}

// stopList returns the current stop list, empty when unavailable.
// Config failures never fail items.
func (s *Service) stopList(ctx context.Context) *models.StopList {
	list, err := s.settings.StopList(ctx)
	if err != nil || list == nil {
		return &models.StopList{}
	}
	return list
}

// aiSettings returns the current scorer settings, defaults when unavailable
func (s *Service) aiSettings(ctx context.Context) models.AISettings {
	settings, err := s.settings.AISettings(ctx)
	if err != nil || settings == nil {
		return models.DefaultAISettings()
	}
	return *settings
}

func (s *Service) publishMatch(ctx context.Context, match *models.JobMatch) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventMatchFound,
		Payload: events.MatchFoundPayload{
			URLHash:  match.URLHash,
			URL:      match.URL,
			Title:    match.Title,
			Company:  match.Company.Name,
			Score:    match.Score,
			Priority: match.Priority,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish match event")
	}
}

// decodePosting reads the scraped_data payload, nil when absent or invalid
func decodePosting(item *models.QueueItem) *models.JobPosting {
	if !item.HasScrapedData() {
		return nil
	}
	var posting models.JobPosting
	if err := json.Unmarshal(item.ScrapedData, &posting); err != nil {
		return nil
	}
	if posting.URL == "" {
		posting.URL = item.URL
	}
	return &posting
}

// mergePosting overlays fetched detail onto listing data, preferring the
// richer field from either side.
func mergePosting(listing, detail *models.JobPosting) *models.JobPosting {
	if listing == nil {
		return detail
	}
	if detail == nil {
		return listing
	}

	merged := *listing
	if merged.Title == "" {
		merged.Title = detail.Title
	}
	if len(detail.Description) > len(merged.Description) {
		merged.Description = detail.Description
	}
	if merged.CompanyName == "" {
		merged.CompanyName = detail.CompanyName
	}
	if merged.Location == "" {
		merged.Location = detail.Location
	}
	if merged.PostedAt == nil {
		merged.PostedAt = detail.PostedAt
	}
	return &merged
}

// buildMatch assembles the persisted match record
func buildMatch(item *models.QueueItem, posting *models.JobPosting, company *models.Company, result *models.ScoreResult) *models.JobMatch {
	now := time.Now().UTC()

	snapshot := models.CompanySnapshot{Name: posting.CompanyName}
	if company != nil {
		snapshot = models.CompanySnapshot{
			Slug:         company.Slug,
			Name:         company.Name,
			Website:      company.Website,
			Size:         company.Size,
			Tier:         company.Tier,
			Headquarters: company.Headquarters,
		}
	}

	return &models.JobMatch{
		URLHash:       item.URLHash,
		URL:           item.URL,
		Title:         posting.Title,
		Company:       snapshot,
		Score:         result.Score,
		Priority:      result.Priority,
		MatchedSkills: result.MatchedSkills,
		MissingSkills: result.MissingSkills,
		Keywords:      result.Keywords,
		Reasoning:     result.Reasoning,
		Source:        item.Source,
		SubmittedBy:   item.SubmittedBy,
		QueueItemID:   item.ID,
		ScoredAt:      now,
		CreatedAt:     now,
	}
}

// classifyEnrichError maps plain enrichment failures onto the taxonomy.
// Errors already classified pass through.
func classifyEnrichError(err error) error {
	var ke *models.KindError
	if errors.As(err, &ke) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewKindError(models.ErrKindNetwork, "company analysis timed out", err)
	}
	return models.NewKindError(models.ErrKindScraperFailed, "company enrichment failed", err)
}
