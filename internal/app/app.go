package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/handlers"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/queue"
	"github.com/ternarybob/peto/internal/services/config"
	"github.com/ternarybob/peto/internal/services/dedup"
	"github.com/ternarybob/peto/internal/services/digest"
	"github.com/ternarybob/peto/internal/services/enrich"
	"github.com/ternarybob/peto/internal/services/events"
	"github.com/ternarybob/peto/internal/services/intake"
	"github.com/ternarybob/peto/internal/services/llm"
	"github.com/ternarybob/peto/internal/services/mailer"
	"github.com/ternarybob/peto/internal/services/pdf"
	"github.com/ternarybob/peto/internal/services/processor"
	"github.com/ternarybob/peto/internal/services/rotation"
	"github.com/ternarybob/peto/internal/services/scraper"
	"github.com/ternarybob/peto/internal/services/sources"
	"github.com/ternarybob/peto/internal/services/worker"
	"github.com/ternarybob/peto/internal/storage"
)

// App holds all worker daemon components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Event bus
	EventService interfaces.EventService

	// Pipeline services
	DedupCache      *dedup.Cache
	SettingsService interfaces.SettingsService
	QueueManager    interfaces.QueueManager
	IntakeService   interfaces.IntakeService
	SourceService   interfaces.SourceService

	// Rotation backend served to the rotation driver over HTTP
	RotationBackend interfaces.RotationBackend

	// Scoring chain
	Profile        *models.Profile
	ScorerFactory  interfaces.ScorerFactory
	Renderer       interfaces.Renderer
	ScraperService interfaces.ScraperService
	Enricher       interfaces.CompanyEnricher
	Processor      interfaces.ItemProcessor
	WorkerPool     interfaces.WorkerPool

	// Digest delivery
	MailerService *mailer.Service
	PDFService    *pdf.Service
	DigestService interfaces.DigestService

	// Retention sweep schedule
	cleanupCron *cron.Cron

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	IngestHandler   *handlers.IngestHandler
	QueueHandler    *handlers.QueueHandler
	MatchesHandler  *handlers.MatchesHandler
	SourcesHandler  *handlers.SourcesHandler
	RotationHandler *handlers.RotationHandler
	StatusHandler   *handlers.StatusHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the worker daemon with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	// Initialize storage
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Event bus first so every service can publish from startup on
	app.EventService = events.NewService(app.Logger)

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Start the worker pool AFTER handlers so early items are observable
	// over the event stream from the first claim on
	if err := app.WorkerPool.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	// Digest starts as a no-op when disabled or SMTP is missing
	if err := app.DigestService.Start(); err != nil {
		return nil, fmt.Errorf("failed to start digest scheduler: %w", err)
	}

	if err := app.startCleanup(); err != nil {
		return nil, fmt.Errorf("failed to start queue cleanup: %w", err)
	}

	// Queue depth ticker for connected WebSocket clients
	if cfg.Events.Enabled {
		app.WSHandler.StartStatsBroadcaster(app.ctx)
	}

	logger.Info().
		Int("worker_parallelism", cfg.Worker.Parallelism).
		Bool("digest_enabled", cfg.Digest.Enabled).
		Bool("events_enabled", cfg.Events.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all pipeline services in dependency order.
//
// INTAKE → QUEUE → PROCESS:
// 1. DedupCache + SettingsService - the gates every submission passes
// 2. QueueManager - durable queue over badger
// 3. IntakeService - stop list, dedup and enqueue funnel
// 4. SourceService + RotationBackend - registry behind the driver API
// 5. ScorerFactory / ScraperService / Enricher / Processor - per-item work
// 6. WorkerPool - claims and settles queue items
// 7. Mailer / PDF / Digest - match delivery
func (a *App) initServices() error {
	ctx := context.Background()

	// Dedup fast path. Storage stays authoritative; the cache only saves
	// the read for recently seen URLs.
	cache, err := dedup.NewCache(dedup.DefaultTTL, 0, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create dedup cache: %w", err)
	}
	a.DedupCache = cache

	// Dynamic settings over the config doc collection
	a.SettingsService = config.NewService(a.StorageManager.ConfigDocStorage(), a.EventService, a.Logger)
	if err := a.SettingsService.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed config documents: %w", err)
	}

	a.QueueManager = queue.NewManager(a.StorageManager.QueueStorage(), a.SettingsService, a.EventService, a.Logger)

	a.IntakeService = intake.NewService(a.QueueManager, a.StorageManager.MatchStorage(), a.SettingsService, a.DedupCache, a.Logger)

	a.SourceService = sources.NewService(a.StorageManager.SourceStorage(), a.EventService, a.Logger)
	if err := a.SourceService.LoadFromDir(ctx, a.Config.Sources.DefinitionsDir); err != nil {
		// Log warning but don't fail startup; the registry keeps whatever
		// rows it already has
		a.Logger.Warn().Err(err).Msg("Failed to load source definitions")
	}

	// The rotation driver runs as its own process; this backend is what
	// its pick, attempt and submit calls land on.
	a.RotationBackend = rotation.NewLocalBackend(a.SourceService, a.QueueManager, a.SettingsService, a.IntakeService, a.Logger)

	// Candidate profile and scorer providers
	profile, err := llm.LoadProfile(a.Config.Profile.Path)
	if err != nil {
		return fmt.Errorf("failed to load candidate profile: %w", err)
	}
	a.Profile = profile
	factory := llm.NewFactory(&a.Config.AI, profile, a.Logger)
	a.ScorerFactory = factory

	a.Logger.Info().
		Str("profile", profile.Name).
		Str("provider", a.Config.AI.Provider).
		Msg("Scoring profile loaded")

	// Detail fetches only need the headless browser when render_js
	// sources are expected
	var renderer interfaces.Renderer
	if a.Config.Scraper.RenderJS {
		renderer = scraper.NewChromeRenderer(a.Config.Scraper, a.Logger)
		a.Renderer = renderer
	}
	a.ScraperService = scraper.NewService(a.Config.Scraper, renderer, a.Logger)

	// Company enrichment analyzes with the provider selected at startup;
	// job scoring keeps following the ai-settings document per item.
	aiSettings, err := a.SettingsService.AISettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AI settings: %w", err)
	}
	analysisScorer, err := factory.Scorer(ctx, *aiSettings)
	if err != nil {
		return fmt.Errorf("failed to build company analysis scorer: %w", err)
	}
	a.Enricher = enrich.NewService(a.Config.Scraper, analysisScorer, a.Logger)

	a.Processor = processor.NewService(
		a.StorageManager,
		a.SettingsService,
		a.ScraperService,
		a.Enricher,
		a.ScorerFactory,
		a.EventService,
		common.Duration(a.Config.AI.CompanyAnalysisTimeout, 0),
		a.Logger,
	)

	a.WorkerPool = worker.NewPool(
		a.QueueManager,
		a.Processor,
		a.SettingsService,
		a.EventService,
		common.Duration(a.Config.Worker.ShutdownGrace, 0),
		a.Logger,
	)

	// Digest delivery
	a.MailerService = mailer.NewService(&a.Config.SMTP, a.Logger)
	a.PDFService = pdf.NewService(a.Logger)
	a.DigestService = digest.NewService(
		&a.Config.Digest,
		a.StorageManager.MatchStorage(),
		a.StorageManager.ConfigDocStorage(),
		a.MailerService,
		a.PDFService,
		a.Logger,
	)

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()
	a.IngestHandler = handlers.NewIngestHandler(a.IntakeService, &a.Config.Ingest, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.QueueManager, a.Logger)
	a.MatchesHandler = handlers.NewMatchesHandler(a.StorageManager.MatchStorage(), a.Logger)
	a.SourcesHandler = handlers.NewSourcesHandler(a.SourceService, a.Logger)
	a.RotationHandler = handlers.NewRotationHandler(a.RotationBackend, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.QueueManager, a.StorageManager, a.DedupCache, a.WorkerPool, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.QueueManager, &a.Config.Events, a.Logger)

	return nil
}

// startCleanup registers the retention sweep on the cleanup schedule.
// An empty schedule disables the sweep; retention then falls back to the
// queue-settings document inside Cleanup itself.
func (a *App) startCleanup() error {
	schedule := a.Config.Cleanup.Schedule
	if schedule == "" {
		a.Logger.Info().Msg("Queue cleanup disabled (no schedule)")
		return nil
	}

	a.cleanupCron = cron.New(cron.WithSeconds())
	_, err := a.cleanupCron.AddFunc(schedule, func() {
		retention := time.Duration(a.Config.Cleanup.RetentionDays) * 24 * time.Hour
		removed, err := a.QueueManager.Cleanup(a.ctx, retention)
		if err != nil {
			a.Logger.Error().Err(err).Msg("Queue cleanup failed")
			return
		}
		if removed > 0 {
			a.Logger.Info().Int("removed", removed).Msg("Queue cleanup removed expired items")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register cleanup schedule: %w", err)
	}
	a.cleanupCron.Start()

	a.Logger.Info().
		Str("schedule", schedule).
		Int("retention_days", a.Config.Cleanup.RetentionDays).
		Msg("Queue cleanup scheduled")

	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	// Cancel background tickers first
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.cleanupCron != nil {
		a.cleanupCron.Stop()
	}

	// Stop the digest scheduler
	if a.DigestService != nil {
		if err := a.DigestService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop digest scheduler")
		}
	}

	// Drain in-flight items within the shutdown grace window
	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		} else {
			a.Logger.Info().Msg("Worker pool stopped")
		}
	}

	// Close the headless renderer
	if a.Renderer != nil {
		if err := a.Renderer.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close renderer")
		}
	}

	// Close scorer providers
	if a.ScorerFactory != nil {
		if err := a.ScorerFactory.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close scorer providers")
		}
	}

	// Close event service
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.DedupCache != nil {
		a.DedupCache.Close()
	}

	// Close storage last
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
