package sources

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/services/events"
)

// Service manages the scrape source registry: one row per scraping
// endpoint, with attempt history, health score and the rotation ordering
// derived from them.
type Service struct {
	storage      interfaces.SourceStorage
	eventService interfaces.EventService
	logger       arbor.ILogger
}

// NewService creates a new SourceService. eventService may be nil when no
// subscriber surface is wired.
func NewService(storage interfaces.SourceStorage, eventService interfaces.EventService, logger arbor.ILogger) interfaces.SourceService {
	return &Service{
		storage:      storage,
		eventService: eventService,
		logger:       logger,
	}
}

// EnsureSource upserts a source. Configuration fields come from the
// caller; runtime state (counters, history, health) survives updates.
func (s *Service) EnsureSource(ctx context.Context, source *models.Source) error {
	if source == nil {
		return fmt.Errorf("source is required")
	}
	if source.SourceID == "" {
		source.SourceID = uuid.New().String()
	}
	if source.Tier == "" {
		source.Tier = models.TierC
	}
	if err := source.Validate(); err != nil {
		return fmt.Errorf("source validation failed: %w", err)
	}

	now := time.Now()
	existing, err := s.storage.Get(ctx, source.SourceID)
	switch {
	case err == nil:
		source.CreatedAt = existing.CreatedAt
		source.LastScrapedAt = existing.LastScrapedAt
		source.LastDurationMS = existing.LastDurationMS
		source.SuccessCount = existing.SuccessCount
		source.FailureCount = existing.FailureCount
		source.TotalJobsFound = existing.TotalJobsFound
		source.HealthScore = existing.HealthScore
		source.RecentAttempts = existing.RecentAttempts
	case models.IsNotFound(err):
		source.CreatedAt = now
		// New sources start healthy so they are tried before degraded
		// ones are retried.
		source.HealthScore = 1.0
	default:
		return err
	}
	source.UpdatedAt = now

	if err := s.storage.Save(ctx, source); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}

	s.logger.Info().
		Str("source_id", source.SourceID).
		Str("kind", string(source.Kind)).
		Str("company", source.CompanyName).
		Str("tier", string(source.Tier)).
		Bool("enabled", source.Enabled).
		Msg("Source registered")
	return nil
}

// Get retrieves a source by id
func (s *Service) Get(ctx context.Context, sourceID string) (*models.Source, error) {
	return s.storage.Get(ctx, sourceID)
}

// List retrieves all sources
func (s *Service) List(ctx context.Context) ([]*models.Source, error) {
	return s.storage.List(ctx)
}

// SetEnabled flips a source in or out of the rotation
func (s *Service) SetEnabled(ctx context.Context, sourceID string, enabled bool) error {
	source, err := s.storage.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if source.Enabled == enabled {
		return nil
	}

	source.Enabled = enabled
	source.UpdatedAt = time.Now()
	if err := s.storage.Save(ctx, source); err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}

	s.logger.Info().
		Str("source_id", sourceID).
		Bool("enabled", enabled).
		Msg("Source enabled flag changed")
	return nil
}

// RecordResult folds one scrape outcome into the source's history,
// counters and health score, and announces it to subscribers.
func (s *Service) RecordResult(ctx context.Context, sourceID string, result *models.SourceAttemptResult) error {
	if result == nil {
		return fmt.Errorf("attempt result is required")
	}
	at := result.At
	if at.IsZero() {
		at = time.Now()
	}

	if err := s.storage.RecordAttempt(ctx, sourceID, at, result.OK, result.Duration, result.JobsFound); err != nil {
		return err
	}

	if result.OK {
		s.logger.Debug().
			Str("source_id", sourceID).
			Int("jobs_found", result.JobsFound).
			Dur("duration", result.Duration).
			Msg("Scrape attempt recorded")
	} else {
		s.logger.Warn().
			Str("source_id", sourceID).
			Str("error", result.Error).
			Dur("duration", result.Duration).
			Msg("Failed scrape attempt recorded")
	}

	s.publishScraped(ctx, sourceID, result)
	return nil
}

// PickRotation returns the next k sources to scrape. The order is a
// lexicographic key over the registry snapshot: healthiest first, then
// better tier, least-recently scraped, least-scraped company, and
// source_id as the final tie-break. No randomization; the same snapshot
// always yields the same list.
func (s *Service) PickRotation(ctx context.Context, k int) ([]*models.Source, error) {
	if k <= 0 {
		return nil, nil
	}

	enabled, err := s.storage.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if len(enabled) == 0 {
		return nil, nil
	}

	// Company scrape rates aggregate over every source the company has,
	// including disabled ones; their past attempts were still load.
	all, err := s.storage.List(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	companyRate := make(map[string]float64, len(all))
	for _, src := range all {
		companyRate[src.CompanyID] += src.ScrapesPerDay(now)
	}

	sort.SliceStable(enabled, func(i, j int) bool {
		return rotationLess(enabled[i], enabled[j], companyRate)
	})

	if k > len(enabled) {
		k = len(enabled)
	}
	picked := enabled[:k]

	s.logger.Debug().
		Int("picked", len(picked)).
		Int("enabled", len(enabled)).
		Msg("Rotation pick computed")
	return picked, nil
}

// rotationLess orders two sources by the rotation key
func rotationLess(a, b *models.Source, companyRate map[string]float64) bool {
	if a.HealthScore != b.HealthScore {
		return a.HealthScore > b.HealthScore
	}
	if ar, br := a.Tier.Rank(), b.Tier.Rank(); ar != br {
		return ar < br
	}
	at, bt := a.LastScrapedOrEpoch(), b.LastScrapedOrEpoch()
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	if ra, rb := companyRate[a.CompanyID], companyRate[b.CompanyID]; ra != rb {
		return ra < rb
	}
	return a.SourceID < b.SourceID
}

func (s *Service) publishScraped(ctx context.Context, sourceID string, result *models.SourceAttemptResult) {
	if s.eventService == nil {
		return
	}

	kind := ""
	if source, err := s.storage.Get(ctx, sourceID); err == nil {
		kind = string(source.Kind)
	}

	event := interfaces.Event{
		Type: interfaces.EventSourceScraped,
		Payload: events.SourceScrapedPayload{
			SourceID:  sourceID,
			Kind:      kind,
			OK:        result.OK,
			JobsFound: result.JobsFound,
			Duration:  result.Duration,
			Error:     result.Error,
		},
	}
	if err := s.eventService.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish scrape event")
	}
}
