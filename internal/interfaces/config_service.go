package interfaces

import (
	"context"

	"github.com/ternarybob/peto/internal/models"
)

// SettingsService manages runtime configuration documents with caching.
// Documents live in the config collection and can change while the
// process runs; snapshots are cheap reads of the cached copy.
type SettingsService interface {
	// StopList returns the current stop list snapshot.
	StopList(ctx context.Context) (*models.StopList, error)

	// QueueSettings returns the current queue tunables snapshot.
	QueueSettings(ctx context.Context) (*models.QueueSettings, error)

	// AISettings returns the current scorer settings snapshot.
	AISettings(ctx context.Context) (*models.AISettings, error)

	// UpdateStopList persists and re-caches the stop list.
	UpdateStopList(ctx context.Context, list *models.StopList) error

	// UpdateQueueSettings persists and re-caches the queue tunables.
	UpdateQueueSettings(ctx context.Context, settings *models.QueueSettings) error

	// UpdateAISettings persists and re-caches the scorer settings.
	UpdateAISettings(ctx context.Context, settings *models.AISettings) error

	// InvalidateCache forces the next read to hit storage.
	InvalidateCache()

	// Seed writes default documents for any that are missing.
	Seed(ctx context.Context) error
}
