package rotation

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// LocalBackend implements the rotation pipeline surface directly over the
// worker's own services. The worker's HTTP handlers expose it to the
// rotation driver; a single-process deployment can hand it straight to
// the rotation service.
type LocalBackend struct {
	sources  interfaces.SourceService
	queue    interfaces.QueueManager
	settings interfaces.SettingsService
	intake   interfaces.IntakeService
	logger   arbor.ILogger
}

// NewLocalBackend creates a rotation backend over in-process services
func NewLocalBackend(sources interfaces.SourceService, queue interfaces.QueueManager, settings interfaces.SettingsService, intake interfaces.IntakeService, logger arbor.ILogger) interfaces.RotationBackend {
	return &LocalBackend{
		sources:  sources,
		queue:    queue,
		settings: settings,
		intake:   intake,
		logger:   logger,
	}
}

// PickRotation returns the next k sources plus the queue depth and high
// watermark the driver's backpressure check needs.
func (b *LocalBackend) PickRotation(ctx context.Context, k int) (*models.RotationPick, error) {
	picked, err := b.sources.PickRotation(ctx, k)
	if err != nil {
		return nil, err
	}

	stats, err := b.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}

	watermark := models.DefaultQueueSettings().QueueHighWatermark
	if qs, err := b.settings.QueueSettings(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("Queue settings unavailable, using default high watermark")
	} else if qs.QueueHighWatermark > 0 {
		watermark = qs.QueueHighWatermark
	}

	return &models.RotationPick{
		Sources:       picked,
		Pending:       stats.Pending,
		HighWatermark: watermark,
	}, nil
}

// RecordResult reports one finished scrape attempt to the registry
func (b *LocalBackend) RecordResult(ctx context.Context, sourceID string, result *models.SourceAttemptResult) error {
	return b.sources.RecordResult(ctx, sourceID, result)
}

// SubmitPostings funnels one rotation's scraper output into intake
func (b *LocalBackend) SubmitPostings(ctx context.Context, postings []*models.JobPosting) ([]interfaces.EnqueueResult, error) {
	return b.intake.SubmitBatch(ctx, postings, models.SourceScraper)
}
