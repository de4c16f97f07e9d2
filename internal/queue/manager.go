package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/services/events"
)

// Manager drives the durable work queue on top of QueueStorage. It owns
// the state machine policy (dedup on enqueue, retry-or-fail dispatch,
// idempotent completion); the storage layer owns the conditional updates
// that make individual transitions safe under concurrency.
type Manager struct {
	storage  interfaces.QueueStorage
	settings interfaces.SettingsService
	events   interfaces.EventService
	logger   arbor.ILogger
}

// NewManager creates a queue manager. events may be nil when no subscriber
// surface is wired, such as in tests.
func NewManager(storage interfaces.QueueStorage, settings interfaces.SettingsService, events interfaces.EventService, logger arbor.ILogger) interfaces.QueueManager {
	return &Manager{
		storage:  storage,
		settings: settings,
		events:   events,
		logger:   logger,
	}
}

// Enqueue stores one item as PENDING. An item whose url_hash is already
// held by a non-FAILED item is reported as a duplicate, not an error.
func (m *Manager) Enqueue(ctx context.Context, item *models.QueueItem) (*interfaces.EnqueueResult, error) {
	if item == nil {
		return nil, models.NewKindError(models.ErrKindInternal, "nil queue item", nil)
	}
	m.applyDefaults(ctx, item)
	if err := item.Validate(); err != nil {
		return nil, models.NewKindError(models.ErrKindInternal, "queue item failed validation", err)
	}

	exists, err := m.storage.HashExists(ctx, item.URLHash)
	if err != nil {
		return nil, err
	}
	if exists {
		m.logger.Debug().
			Str("url", item.URL).
			Str("url_hash", item.URLHash).
			Msg("Enqueue rejected, url already queued")
		return &interfaces.EnqueueResult{URL: item.URL, Duplicate: true, Reason: "duplicate"}, nil
	}

	if err := m.storage.Insert(ctx, item); err != nil {
		return nil, err
	}

	m.publishEnqueued(ctx, item)
	m.logger.Info().
		Str("item_id", item.ID).
		Str("type", string(item.Type)).
		Str("source", string(item.Source)).
		Str("url", item.URL).
		Msg("Queue item enqueued")
	return &interfaces.EnqueueResult{ID: item.ID, URL: item.URL, Accepted: true}, nil
}

// EnqueueBatch stores many items with one store-side existence query.
// Duplicates within the batch collapse onto the first occurrence; results
// are positional.
func (m *Manager) EnqueueBatch(ctx context.Context, items []*models.QueueItem) ([]interfaces.EnqueueResult, error) {
	results := make([]interfaces.EnqueueResult, len(items))
	if len(items) == 0 {
		return results, nil
	}

	hashes := make([]string, 0, len(items))
	for _, item := range items {
		if item != nil && item.URLHash != "" {
			hashes = append(hashes, item.URLHash)
		}
	}
	existing, err := m.storage.ExistingHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}

	maxRetries := m.defaultMaxRetries(ctx)
	seen := make(map[string]bool, len(items))
	accepted := 0
	for i, item := range items {
		if item == nil {
			results[i] = interfaces.EnqueueResult{Reason: "missing item"}
			continue
		}
		m.applyItemDefaults(item, maxRetries)
		if err := item.Validate(); err != nil {
			results[i] = interfaces.EnqueueResult{URL: item.URL, Reason: err.Error()}
			continue
		}
		if seen[item.URLHash] || existing[item.URLHash] {
			results[i] = interfaces.EnqueueResult{URL: item.URL, Duplicate: true, Reason: "duplicate"}
			continue
		}
		if err := m.storage.Insert(ctx, item); err != nil {
			m.logger.Warn().Err(err).Str("url", item.URL).Msg("Batch enqueue item failed")
			results[i] = interfaces.EnqueueResult{URL: item.URL, Reason: err.Error()}
			continue
		}
		seen[item.URLHash] = true
		accepted++
		m.publishEnqueued(ctx, item)
		results[i] = interfaces.EnqueueResult{ID: item.ID, URL: item.URL, Accepted: true}
	}

	m.logger.Info().
		Int("submitted", len(items)).
		Int("accepted", accepted).
		Msg("Queue batch enqueued")
	return results, nil
}

// RecordSkipped writes an item directly in SKIPPED, preserving the fate of
// a submission the intake rejected (stop list) without feeding the worker.
// If the url_hash is already tracked, the existing record stands and the
// result reports a duplicate alongside the skip reason.
func (m *Manager) RecordSkipped(ctx context.Context, item *models.QueueItem, reason string) (*interfaces.EnqueueResult, error) {
	if item == nil {
		return nil, models.NewKindError(models.ErrKindInternal, "nil queue item", nil)
	}
	m.applyDefaults(ctx, item)

	now := time.Now()
	item.Status = models.StatusSkipped
	item.ResultMessage = reason
	item.CompletedAt = &now
	if err := item.Validate(); err != nil {
		return nil, models.NewKindError(models.ErrKindInternal, "queue item failed validation", err)
	}

	exists, err := m.storage.HashExists(ctx, item.URLHash)
	if err != nil {
		return nil, err
	}
	if exists {
		return &interfaces.EnqueueResult{URL: item.URL, Duplicate: true, Reason: reason}, nil
	}

	if err := m.storage.Insert(ctx, item); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("item_id", item.ID).
		Str("url", item.URL).
		Str("reason", reason).
		Msg("Submission recorded as skipped")
	return &interfaces.EnqueueResult{ID: item.ID, URL: item.URL, Reason: reason}, nil
}

// Claim leases up to limit PENDING items. Expired leases are recovered
// first so items orphaned by a crashed worker re-enter the same claim in
// their original FIFO position.
func (m *Manager) Claim(ctx context.Context, limit int) ([]*models.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	if _, err := m.RecoverStale(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Stale lease recovery failed")
	}

	leaseUntil := time.Now().Add(m.leaseDuration(ctx))
	return m.storage.Claim(ctx, limit, leaseUntil)
}

// Complete moves a claimed item to a terminal status. Completing an item
// that already reached a terminal status is a no-op, so workers can retry
// the call after a transient failure without tripping the precondition.
func (m *Manager) Complete(ctx context.Context, id string, status models.QueueItemStatus, resultMessage string, errDetails *models.ErrorDetails) error {
	err := m.storage.Complete(ctx, id, status, resultMessage, errDetails)
	if err == nil {
		return nil
	}

	if models.KindOf(err) == models.ErrKindStoragePrecondition {
		item, getErr := m.storage.Get(ctx, id)
		if getErr == nil && item.Status.IsTerminal() {
			m.logger.Debug().
				Str("item_id", id).
				Str("status", string(item.Status)).
				Msg("Complete on terminal item ignored")
			return nil
		}
	}
	return err
}

// Fail dispatches a processing failure by its error kind: skip reasons
// finish the item as SKIPPED, unrecoverable kinds as FAILED, and everything
// else releases the item for retry until max_retries is exhausted.
func (m *Manager) Fail(ctx context.Context, id string, cause error) error {
	kind := models.KindOf(cause)
	details := &models.ErrorDetails{
		Kind:      kind,
		Message:   causeMessage(cause),
		Timestamp: time.Now(),
	}

	switch {
	case kind.IsSkipReason():
		return m.Complete(ctx, id, models.StatusSkipped, details.Message, details)

	case !kind.IsRetryable():
		m.logger.Warn().
			Str("item_id", id).
			Str("kind", string(kind)).
			Str("error", details.Message).
			Msg("Unrecoverable failure, item failed without retry")
		return m.Complete(ctx, id, models.StatusFailed, details.Message, details)

	default:
		status, err := m.storage.Release(ctx, id, true, details)
		if err != nil {
			return err
		}
		if status == models.StatusFailed {
			m.logger.Warn().
				Str("item_id", id).
				Str("kind", string(kind)).
				Str("error", details.Message).
				Msg("Retries exhausted, item failed")
		} else {
			m.logger.Debug().
				Str("item_id", id).
				Str("kind", string(kind)).
				Str("error", details.Message).
				Msg("Item released for retry")
		}
		return nil
	}
}

// ExtendLease pushes a claimed item's lease forward by d, or by the
// configured processing timeout when d is zero.
func (m *Manager) ExtendLease(ctx context.Context, id string, d time.Duration) error {
	if d <= 0 {
		d = m.leaseDuration(ctx)
	}
	return m.storage.ExtendLease(ctx, id, time.Now().Add(d))
}

// RecoverStale returns PROCESSING items with expired leases to PENDING.
// Retry counts are untouched; a lost lease is a crash, not a failure.
func (m *Manager) RecoverStale(ctx context.Context) (int, error) {
	recovered, err := m.storage.ReleaseExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		m.logger.Warn().
			Int("recovered", recovered).
			Msg("Recovered queue items from expired leases")
	}
	return recovered, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	return m.storage.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, opts *interfaces.QueueListOptions) ([]*models.QueueItem, error) {
	return m.storage.List(ctx, opts)
}

// Stats summarizes item counts by status for the status endpoints and the
// rotation backpressure check.
func (m *Manager) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	counts, err := m.storage.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &interfaces.QueueStats{
		Pending:    counts[models.StatusPending],
		Processing: counts[models.StatusProcessing],
		Success:    counts[models.StatusSuccess],
		Skipped:    counts[models.StatusSkipped],
		Failed:     counts[models.StatusFailed],
	}
	stats.Total = stats.Pending + stats.Processing + stats.Success + stats.Skipped + stats.Failed
	return stats, nil
}

// Cleanup deletes terminal items whose completion predates the retention
// window. Zero retention falls back to the configured retention_days.
func (m *Manager) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		qs, err := m.settings.QueueSettings(ctx)
		if err != nil {
			return 0, err
		}
		retention = time.Duration(qs.RetentionDays) * 24 * time.Hour
	}

	deleted, err := m.storage.DeleteTerminalBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		m.logger.Info().
			Int("deleted", deleted).
			Dur("retention", retention).
			Msg("Queue retention cleanup completed")
	}
	return deleted, nil
}

func (m *Manager) applyDefaults(ctx context.Context, item *models.QueueItem) {
	m.applyItemDefaults(item, m.defaultMaxRetries(ctx))
}

func (m *Manager) applyItemDefaults(item *models.QueueItem, maxRetries int) {
	now := time.Now()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.StatusPending
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = maxRetries
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
}

func (m *Manager) defaultMaxRetries(ctx context.Context) int {
	qs, err := m.settings.QueueSettings(ctx)
	if err != nil || qs.MaxRetries <= 0 {
		return models.DefaultMaxRetries
	}
	return qs.MaxRetries
}

func (m *Manager) leaseDuration(ctx context.Context) time.Duration {
	qs, err := m.settings.QueueSettings(ctx)
	if err != nil || qs.ProcessingTimeoutSeconds <= 0 {
		return models.DefaultQueueSettings().Lease()
	}
	return qs.Lease()
}

func (m *Manager) publishEnqueued(ctx context.Context, item *models.QueueItem) {
	if m.events == nil {
		return
	}
	payload := events.ItemEnqueuedPayload{
		ItemID: item.ID,
		Type:   item.Type,
		URL:    item.URL,
		Source: item.Source,
	}
	if err := m.events.Publish(ctx, interfaces.Event{Type: interfaces.EventItemEnqueued, Payload: payload}); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to publish enqueue event")
	}
}

// causeMessage prefers the classified message over the full error chain so
// result messages stay readable in listings.
func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	if ke, ok := err.(*models.KindError); ok && ke.Message != "" {
		return ke.Message
	}
	return err.Error()
}
