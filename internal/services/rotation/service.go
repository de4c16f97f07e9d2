package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/services/events"
)

const (
	// maxParallelScrapes caps concurrent adapter runs in one rotation.
	// Per-host politeness lives in the scraper service; this bound only
	// keeps one rotation from opening too many connections at once.
	maxParallelScrapes = 4

	defaultBatchK      = 5
	defaultBackoffBase = time.Minute
	defaultBackoffMax  = 30 * time.Minute

	// stopTimeout bounds the wait for an in-flight rotation on Stop.
	stopTimeout = 30 * time.Second
)

// Service drives scheduled rotations. Each tick asks the backend for
// the next source batch, scrapes the picked sources in parallel, reports
// attempt outcomes back to the registry and funnels found postings into
// intake. While the queue sits above the high watermark, ticks are
// skipped and the cadence backs off exponentially until it drains.
type Service struct {
	backend      interfaces.RotationBackend
	scrapers     interfaces.ScraperService
	eventService interfaces.EventService
	logger       arbor.ILogger

	schedule    string
	batchK      int
	backoffBase time.Duration
	backoffMax  time.Duration

	cron  *cron.Cron
	runMu sync.Mutex // one rotation at a time

	mu           sync.Mutex // guards the fields below
	running      bool
	backoffLevel int
	skipUntil    time.Time
}

// NewService creates the rotation driver. eventService may be nil when
// no subscriber surface is wired.
func NewService(backend interfaces.RotationBackend, scrapers interfaces.ScraperService, eventService interfaces.EventService, cfg *common.RotationConfig, logger arbor.ILogger) interfaces.RotationService {
	batchK := cfg.BatchK
	if batchK <= 0 {
		batchK = defaultBatchK
	}
	return &Service{
		backend:      backend,
		scrapers:     scrapers,
		eventService: eventService,
		logger:       logger,
		schedule:     cfg.Schedule,
		batchK:       batchK,
		backoffBase:  common.Duration(cfg.BackoffBase, defaultBackoffBase),
		backoffMax:   common.Duration(cfg.BackoffMax, defaultBackoffMax),
		cron:         cron.New(cron.WithSeconds()),
	}
}

// Start registers the rotation schedule and begins ticking.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.schedule == "" {
		return fmt.Errorf("rotation schedule is required")
	}
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("failed to register rotation schedule: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Int("batch_k", s.batchK).
		Msg("Rotation scheduler started")
	return nil
}

// Stop halts the schedule and waits for an in-flight rotation.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn().Msg("Rotation did not finish within shutdown window")
	}

	s.logger.Info().Msg("Rotation scheduler stopped")
	return nil
}

// tick runs one scheduled rotation unless the backoff window is open.
func (s *Service) tick() {
	s.mu.Lock()
	wait := time.Until(s.skipUntil)
	s.mu.Unlock()

	if wait > 0 {
		s.logger.Debug().
			Dur("remaining", wait).
			Msg("Rotation tick skipped during backoff")
		return
	}

	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("Rotation run failed")
	}
}

// RunOnce executes a single rotation. Callers outside the schedule get
// the same backpressure check; only the skip window is schedule-local.
func (s *Service) RunOnce(ctx context.Context) (*models.RotationReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := &models.RotationReport{StartedAt: time.Now()}

	pick, err := s.backend.PickRotation(ctx, s.batchK)
	if err != nil {
		return nil, fmt.Errorf("rotation pick failed: %w", err)
	}

	if pick.Backpressure() {
		report.Backpressure = true
		report.FinishedAt = time.Now()
		delay := s.raiseBackoff()
		s.logger.Warn().
			Int("pending", pick.Pending).
			Int("high_watermark", pick.HighWatermark).
			Dur("next_attempt_in", delay).
			Msg("Queue backpressure, rotation skipped")
		return report, nil
	}
	s.resetBackoff()

	report.SourcesPicked = len(pick.Sources)
	s.publish(ctx, interfaces.EventRotationStarted, events.RotationStartedPayload{
		Picked:  len(pick.Sources),
		Pending: pick.Pending,
	})

	if len(pick.Sources) > 0 {
		postings := s.scrapeAll(ctx, pick.Sources, report)
		if len(postings) > 0 {
			s.submit(ctx, postings, report)
		}
	}

	report.FinishedAt = time.Now()
	duration := report.FinishedAt.Sub(report.StartedAt)

	s.publish(ctx, interfaces.EventRotationFinished, events.RotationFinishedPayload{
		Scraped:   report.SourcesOK,
		Failed:    report.SourcesFailed,
		JobsFound: report.PostingsFound,
		Queued:    report.Enqueued,
		Duration:  duration,
	})

	s.logger.Info().
		Int("picked", report.SourcesPicked).
		Int("ok", report.SourcesOK).
		Int("failed", report.SourcesFailed).
		Int("postings", report.PostingsFound).
		Int("enqueued", report.Enqueued).
		Int("duplicates", report.Duplicates).
		Dur("duration", duration).
		Msg("Rotation finished")
	return report, nil
}

// scrapeAll runs the picked sources through their adapters with bounded
// parallelism, recording every attempt with the registry.
func (s *Service) scrapeAll(ctx context.Context, sources []*models.Source, report *models.RotationReport) []*models.JobPosting {
	var mu sync.Mutex
	postings := make([]*models.JobPosting, 0, 32)

	g := new(errgroup.Group)
	g.SetLimit(maxParallelScrapes)
	for _, source := range sources {
		src := source
		g.Go(func() error {
			start := time.Now()
			result, err := s.scrapers.Scrape(ctx, src)
			attempt := &models.SourceAttemptResult{
				At:       start,
				Duration: time.Since(start),
			}

			mu.Lock()
			if err != nil {
				report.SourcesFailed++
				attempt.Error = attemptError(err)
			} else {
				report.SourcesOK++
				report.PostingsFound += len(result.Postings)
				attempt.OK = true
				attempt.JobsFound = len(result.Postings)
				postings = append(postings, result.Postings...)
			}
			mu.Unlock()

			if err != nil {
				s.logger.Warn().Err(err).
					Str("source_id", src.SourceID).
					Str("kind", string(src.Kind)).
					Msg("Source scrape failed")
			}

			if recErr := s.backend.RecordResult(ctx, src.SourceID, attempt); recErr != nil {
				s.logger.Warn().Err(recErr).
					Str("source_id", src.SourceID).
					Msg("Failed to record scrape attempt")
			}
			return nil
		})
	}
	_ = g.Wait()
	return postings
}

// submit funnels one rotation's postings into intake and folds the
// positional results into the report.
func (s *Service) submit(ctx context.Context, postings []*models.JobPosting, report *models.RotationReport) {
	results, err := s.backend.SubmitPostings(ctx, postings)
	if err != nil {
		s.logger.Error().Err(err).
			Int("postings", len(postings)).
			Msg("Failed to submit scraped postings")
		return
	}
	for _, r := range results {
		if r.Accepted {
			report.Enqueued++
		}
		if r.Duplicate {
			report.Duplicates++
		}
	}
}

// raiseBackoff widens the skip window exponentially and returns the
// delay applied.
func (s *Service) raiseBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.backoffBase << uint(s.backoffLevel)
	if delay <= 0 || delay > s.backoffMax {
		delay = s.backoffMax
	}
	s.backoffLevel++
	s.skipUntil = time.Now().Add(delay)
	return delay
}

func (s *Service) resetBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backoffLevel > 0 {
		s.logger.Info().Msg("Queue drained, rotation cadence restored")
	}
	s.backoffLevel = 0
	s.skipUntil = time.Time{}
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if s.eventService == nil {
		return
	}
	if err := s.eventService.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Debug().Err(err).
			Str("event", string(eventType)).
			Msg("Event publish failed")
	}
}

// attemptError renders a compact kind-tagged message for the attempt
// ring.
func attemptError(err error) string {
	kind := models.KindOf(err)
	var ke *models.KindError
	if errors.As(err, &ke) && ke.Message != "" {
		return fmt.Sprintf("%s: %s", kind, ke.Message)
	}
	return fmt.Sprintf("%s: %v", kind, err)
}
