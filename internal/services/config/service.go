// -----------------------------------------------------------------------
// Settings Service - runtime configuration documents with caching
// -----------------------------------------------------------------------

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// cacheTTL bounds how stale a cached document snapshot can get. Updates
// through this service refresh the cache immediately; the TTL exists so
// out-of-band writes are eventually observed too.
const cacheTTL = 60 * time.Second

// entry is one cached config document snapshot
type entry struct {
	value    interface{}
	loadedAt time.Time
}

// Service implements SettingsService over the config document store.
// Reads serve from an in-memory snapshot; writes go through to storage
// and refresh the snapshot in the same call.
type Service struct {
	store    interfaces.ConfigDocStorage
	events   interfaces.EventService
	logger   arbor.ILogger
	validate *validator.Validate

	mu    sync.RWMutex
	cache map[string]entry
}

// NewService creates a settings service. The events bus may be nil in
// tests; settings_changed events are then skipped.
func NewService(store interfaces.ConfigDocStorage, events interfaces.EventService, logger arbor.ILogger) interfaces.SettingsService {
	return &Service{
		store:    store,
		events:   events,
		logger:   logger,
		validate: validator.New(),
		cache:    make(map[string]entry),
	}
}

// StopList returns the current stop list snapshot. A missing document
// yields an empty list, never an error.
func (s *Service) StopList(ctx context.Context) (*models.StopList, error) {
	if v, ok := s.cached(models.ConfigDocStopList); ok {
		return v.(*models.StopList), nil
	}

	list := &models.StopList{}
	doc, err := s.store.GetDoc(ctx, models.ConfigDocStopList)
	switch {
	case models.IsNotFound(err):
		// Empty list until seeded or configured
	case err != nil:
		return nil, models.NewKindError(models.ErrKindConfigUnavailable, "load stop list", err)
	default:
		if err := s.decodeDoc(doc, list, "excludedCompanies", "excludedKeywords", "excludedHosts"); err != nil {
			s.logger.Warn().Err(err).Str("doc", doc.ID).Msg("Malformed stop list document, using empty list")
			list = &models.StopList{}
		}
	}

	s.remember(models.ConfigDocStopList, list)
	return list, nil
}

// QueueSettings returns the current queue tunables snapshot. Missing or
// invalid documents fall back to the defaults.
func (s *Service) QueueSettings(ctx context.Context) (*models.QueueSettings, error) {
	if v, ok := s.cached(models.ConfigDocQueueSettings); ok {
		return v.(*models.QueueSettings), nil
	}

	defaults := models.DefaultQueueSettings()
	settings := defaults

	doc, err := s.store.GetDoc(ctx, models.ConfigDocQueueSettings)
	switch {
	case models.IsNotFound(err):
	case err != nil:
		return nil, models.NewKindError(models.ErrKindConfigUnavailable, "load queue settings", err)
	default:
		if err := s.decodeDoc(doc, &settings,
			"max_retries", "retry_delay_seconds", "processing_timeout_seconds",
			"batch_size", "parallelism", "poll_interval_seconds",
			"queue_high_watermark", "retention_days"); err != nil {
			s.logger.Warn().Err(err).Str("doc", doc.ID).Msg("Malformed queue settings document, using defaults")
			settings = defaults
		} else if err := s.validate.Struct(settings); err != nil {
			s.logger.Warn().Err(err).Str("doc", doc.ID).Msg("Queue settings out of range, using defaults")
			settings = defaults
		}
	}

	s.remember(models.ConfigDocQueueSettings, &settings)
	return &settings, nil
}

// AISettings returns the current scorer settings snapshot. Missing or
// invalid documents fall back to the defaults.
func (s *Service) AISettings(ctx context.Context) (*models.AISettings, error) {
	if v, ok := s.cached(models.ConfigDocAISettings); ok {
		return v.(*models.AISettings), nil
	}

	defaults := models.DefaultAISettings()
	settings := defaults

	doc, err := s.store.GetDoc(ctx, models.ConfigDocAISettings)
	switch {
	case models.IsNotFound(err):
	case err != nil:
		return nil, models.NewKindError(models.ErrKindConfigUnavailable, "load ai settings", err)
	default:
		if err := s.decodeDoc(doc, &settings,
			"provider", "model", "min_match_score", "daily_cost_budget"); err != nil {
			s.logger.Warn().Err(err).Str("doc", doc.ID).Msg("Malformed AI settings document, using defaults")
			settings = defaults
		} else if err := s.validate.Struct(settings); err != nil {
			s.logger.Warn().Err(err).Str("doc", doc.ID).Msg("AI settings out of range, using defaults")
			settings = defaults
		}
	}

	s.remember(models.ConfigDocAISettings, &settings)
	return &settings, nil
}

// UpdateStopList persists and re-caches the stop list
func (s *Service) UpdateStopList(ctx context.Context, list *models.StopList) error {
	if list == nil {
		return fmt.Errorf("stop list cannot be nil")
	}
	if err := s.putDoc(ctx, models.ConfigDocStopList, list); err != nil {
		return err
	}
	s.remember(models.ConfigDocStopList, list)
	s.publishChanged(ctx, models.ConfigDocStopList)

	s.logger.Info().
		Int("companies", len(list.ExcludedCompanies)).
		Int("keywords", len(list.ExcludedKeywords)).
		Int("hosts", len(list.ExcludedHosts)).
		Msg("Stop list updated")
	return nil
}

// UpdateQueueSettings validates, persists and re-caches the queue tunables
func (s *Service) UpdateQueueSettings(ctx context.Context, settings *models.QueueSettings) error {
	if settings == nil {
		return fmt.Errorf("queue settings cannot be nil")
	}
	if err := s.validate.Struct(settings); err != nil {
		return fmt.Errorf("invalid queue settings: %w", err)
	}
	if err := s.putDoc(ctx, models.ConfigDocQueueSettings, settings); err != nil {
		return err
	}
	s.remember(models.ConfigDocQueueSettings, settings)
	s.publishChanged(ctx, models.ConfigDocQueueSettings)

	s.logger.Info().
		Int("batch_size", settings.BatchSize).
		Int("parallelism", settings.Parallelism).
		Int("max_retries", settings.MaxRetries).
		Msg("Queue settings updated")
	return nil
}

// UpdateAISettings validates, persists and re-caches the scorer settings
func (s *Service) UpdateAISettings(ctx context.Context, settings *models.AISettings) error {
	if settings == nil {
		return fmt.Errorf("ai settings cannot be nil")
	}
	if err := s.validate.Struct(settings); err != nil {
		return fmt.Errorf("invalid ai settings: %w", err)
	}
	if err := s.putDoc(ctx, models.ConfigDocAISettings, settings); err != nil {
		return err
	}
	s.remember(models.ConfigDocAISettings, settings)
	s.publishChanged(ctx, models.ConfigDocAISettings)

	s.logger.Info().
		Str("provider", settings.Provider).
		Int("min_match_score", settings.MinMatchScore).
		Msg("AI settings updated")
	return nil
}

// InvalidateCache forces the next read of every document to hit storage.
// Wired to SIGHUP in the worker binary.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	s.cache = make(map[string]entry)
	s.mu.Unlock()

	s.logger.Debug().Msg("Settings cache invalidated")
}

// Seed writes default documents for any that are missing, so a fresh
// database starts with editable settings rather than implicit defaults.
func (s *Service) Seed(ctx context.Context) error {
	seeds := []struct {
		id    string
		value interface{}
	}{
		{models.ConfigDocStopList, &models.StopList{
			ExcludedCompanies: []string{},
			ExcludedKeywords:  []string{},
			ExcludedHosts:     []string{},
		}},
		{models.ConfigDocQueueSettings, func() *models.QueueSettings { d := models.DefaultQueueSettings(); return &d }()},
		{models.ConfigDocAISettings, func() *models.AISettings { d := models.DefaultAISettings(); return &d }()},
	}

	for _, seed := range seeds {
		_, err := s.store.GetDoc(ctx, seed.id)
		if err == nil {
			continue
		}
		if !models.IsNotFound(err) {
			return fmt.Errorf("check config doc %s: %w", seed.id, err)
		}
		if err := s.putDoc(ctx, seed.id, seed.value); err != nil {
			return fmt.Errorf("seed config doc %s: %w", seed.id, err)
		}
		s.logger.Info().Str("doc", seed.id).Msg("Seeded default config document")
	}

	return nil
}

// cached returns a fresh snapshot from the cache, if any
func (s *Service) cached(id string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.cache[id]
	if !ok || time.Since(e.loadedAt) > cacheTTL {
		return nil, false
	}
	return e.value, true
}

// remember stores a snapshot in the cache
func (s *Service) remember(id string, value interface{}) {
	s.mu.Lock()
	s.cache[id] = entry{value: value, loadedAt: time.Now()}
	s.mu.Unlock()
}

// putDoc marshals and stores a config document
func (s *Service) putDoc(ctx context.Context, id string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal config doc %s: %w", id, err)
	}
	return s.store.PutDoc(ctx, &models.ConfigDoc{
		ID:        id,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	})
}

// decodeDoc unmarshals a document payload into target and logs any fields
// the payload carries that the schema does not, so typos in hand-edited
// settings are visible instead of silently ignored.
func (s *Service) decodeDoc(doc *models.ConfigDoc, target interface{}, knownFields ...string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc.Data, &raw); err != nil {
		return fmt.Errorf("decode %s: %w", doc.ID, err)
	}

	known := make(map[string]bool, len(knownFields))
	for _, f := range knownFields {
		known[f] = true
	}
	for field := range raw {
		if !known[field] {
			s.logger.Warn().
				Str("doc", doc.ID).
				Str("field", field).
				Msg("Unknown field in config document ignored")
		}
	}

	if err := json.Unmarshal(doc.Data, target); err != nil {
		return fmt.Errorf("decode %s: %w", doc.ID, err)
	}
	return nil
}

// publishChanged emits a settings_changed event naming the document
func (s *Service) publishChanged(ctx context.Context, docID string) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventSettingsChanged,
		Payload: map[string]string{"doc": docID},
	}); err != nil {
		s.logger.Warn().Err(err).Str("doc", docID).Msg("Failed to publish settings change")
	}
}
