package handlers

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/queue"
	"github.com/ternarybob/peto/internal/services/dedup"
	"github.com/ternarybob/peto/internal/services/intake"
	"github.com/ternarybob/peto/internal/services/sources"
	badgerstore "github.com/ternarybob/peto/internal/storage/badger"
)

// stubSettings serves a configurable stop list and default tunables
type stubSettings struct {
	stop models.StopList
}

func (s *stubSettings) StopList(ctx context.Context) (*models.StopList, error) {
	list := s.stop
	return &list, nil
}

func (s *stubSettings) QueueSettings(ctx context.Context) (*models.QueueSettings, error) {
	qs := models.DefaultQueueSettings()
	return &qs, nil
}

func (s *stubSettings) AISettings(ctx context.Context) (*models.AISettings, error) {
	as := models.DefaultAISettings()
	return &as, nil
}

func (s *stubSettings) UpdateStopList(ctx context.Context, list *models.StopList) error { return nil }

func (s *stubSettings) UpdateQueueSettings(ctx context.Context, settings *models.QueueSettings) error {
	return nil
}

func (s *stubSettings) UpdateAISettings(ctx context.Context, settings *models.AISettings) error {
	return nil
}

func (s *stubSettings) InvalidateCache() {}

func (s *stubSettings) Seed(ctx context.Context) error { return nil }

// handlerDeps wires real storage and services for handler tests
type handlerDeps struct {
	store    interfaces.StorageManager
	queue    interfaces.QueueManager
	dedup    *dedup.Cache
	settings interfaces.SettingsService
	intake   interfaces.IntakeService
	sources  interfaces.SourceService
	logger   arbor.ILogger
}

func newHandlerDeps(t *testing.T) handlerDeps {
	t.Helper()

	logger := arbor.NewLogger()
	store, err := badgerstore.NewManager(logger, &common.StorageConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := dedup.NewCache(dedup.DefaultTTL, 1000, logger)
	if err != nil {
		t.Fatalf("Failed to create dedup cache: %v", err)
	}
	t.Cleanup(cache.Close)

	settings := &stubSettings{}
	manager := queue.NewManager(store.QueueStorage(), settings, nil, logger)

	return handlerDeps{
		store:    store,
		queue:    manager,
		dedup:    cache,
		settings: settings,
		intake:   intake.NewService(manager, store.MatchStorage(), settings, cache, logger),
		sources:  sources.NewService(store.SourceStorage(), nil, logger),
		logger:   logger,
	}
}
