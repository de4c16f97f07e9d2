package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/httpclient"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/services/email"
	"github.com/ternarybob/peto/internal/services/rotation"
	"github.com/ternarybob/peto/internal/services/scraper"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	workerURL    = flag.String("worker-url", "", "Worker daemon base URL (overrides config)")
	logLevel     = flag.String("log-level", "", "Log level (overrides config)")
	runOnce      = flag.Bool("once", false, "Run a single rotation and exit")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	// Register custom flag for multiple config files
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	// Parse command-line flags
	flag.Parse()

	// Handle version flag
	if *showVersion || *showVersionV {
		fmt.Printf("peto-rotation version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	var err error

	// Auto-discover config file if not specified. The driver shares the
	// worker daemon's config file; it only reads the sections it needs.
	if len(configFiles) == 0 {
		// Check current directory first
		if _, err := os.Stat("peto.toml"); err == nil {
			configFiles = append(configFiles, "peto.toml")
		} else if _, err := os.Stat("deployments/local/peto.toml"); err == nil {
			// Fallback: check deployments/local for users running from project root
			configFiles = append(configFiles, "deployments/local/peto.toml")
		}
	}

	// Load configuration. A broken config is exit code 2 so supervisors
	// can tell it apart from runtime failures.
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		os.Exit(2)
	}

	// Apply command-line flag overrides (highest priority)
	config.ApplyFlagOverrides(common.FlagOverrides{LogLevel: *logLevel})
	if *workerURL != "" {
		config.Rotation.WorkerURL = *workerURL
	}

	if err := config.Validate(); err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Error().Strs("paths", configFiles).Err(err).Msg("Invalid configuration")
		os.Exit(2)
	}

	logger = common.InitLogger(config)
	common.PrintBanner("peto-rotation", common.GetVersion())

	// The worker daemon owns the store; everything this process learns or
	// finds goes through its HTTP API. Default to the daemon's own listen
	// address from the shared config.
	baseURL := config.Rotation.WorkerURL
	if baseURL == "" {
		baseURL = "http://" + config.Server.Addr()
	}
	client := httpclient.New(baseURL, config.Ingest.WebhookSecret, 0, logger)

	logger.Info().
		Strs("config_files", configFiles).
		Str("worker_url", baseURL).
		Str("schedule", config.Rotation.Schedule).
		Msg("Rotation driver configuration loaded")

	if err := client.Health(context.Background()); err != nil {
		logger.Warn().Err(err).
			Str("worker_url", baseURL).
			Msg("Worker daemon not reachable yet; scheduled rotations will keep retrying")
	}

	// Headless rendering is optional: without it, sources that request
	// render_js degrade to plain fetches.
	var renderer interfaces.Renderer
	if config.Scraper.RenderJS {
		chrome := scraper.NewChromeRenderer(config.Scraper, logger)
		defer chrome.Close()
		renderer = chrome
	}
	scrapers := scraper.NewService(config.Scraper, renderer, logger)

	rotationSvc := rotation.NewService(client, scrapers, nil, &config.Rotation, logger)

	// One-shot mode for cron-driven deployments
	if *runOnce {
		report, err := rotationSvc.RunOnce(context.Background())
		if err != nil {
			logger.Fatal().Err(err).Msg("Rotation run failed")
		}
		logger.Info().
			Int("picked", report.SourcesPicked).
			Int("enqueued", report.Enqueued).
			Bool("backpressure", report.Backpressure).
			Msg("Rotation complete")
		return
	}

	if err := rotationSvc.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start rotation scheduler")
	}

	inbox := email.NewService(&config.Email, client, logger)
	if err := inbox.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start email intake")
	}

	logger.Info().
		Str("schedule", config.Rotation.Schedule).
		Bool("email_intake", inbox.Configured()).
		Msg("Rotation driver ready - Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Interrupt signal received")

	// Graceful shutdown: stop feeding before stopping the feeder's inputs
	logger.Info().Msg("Shutting down rotation driver")

	if err := inbox.Stop(); err != nil {
		logger.Error().Err(err).Msg("Email intake shutdown failed")
	}
	if err := rotationSvc.Stop(); err != nil {
		logger.Error().Err(err).Msg("Rotation scheduler shutdown failed")
	}

	logger.Info().Msg("Rotation driver stopped")
}
