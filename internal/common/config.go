package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Ingest      IngestConfig   `toml:"ingest"`
	Worker      WorkerConfig   `toml:"worker"`
	Rotation    RotationConfig `toml:"rotation"`
	Scraper     ScraperConfig  `toml:"scraper"`
	Sources     SourcesConfig  `toml:"sources"`
	AI          AIConfig       `toml:"ai"`
	Profile     ProfileConfig  `toml:"profile"`
	Email       EmailConfig    `toml:"email"`
	SMTP        SMTPConfig     `toml:"smtp"`
	Digest      DigestConfig   `toml:"digest"`
	Cleanup     CleanupConfig  `toml:"cleanup"`
	Events      EventsConfig   `toml:"events"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

// Addr returns the host:port listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	Path           string `toml:"path" validate:"required"` // BadgerDB directory
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
	FileDir    string   `toml:"file_dir"`    // Directory for rolling log files
}

// IngestConfig covers the webhook surface
type IngestConfig struct {
	WebhookSecret string `toml:"webhook_secret"`  // Shared HMAC secret; empty disables the webhook
	RatePerMinute int    `toml:"rate_per_minute"` // Token bucket refill for webhook callers
	MaxBodyBytes  int64  `toml:"max_body_bytes"`  // Request body cap
}

// WorkerConfig holds queue worker tunables. The queue-settings document
// overrides these at runtime; file values seed the defaults.
type WorkerConfig struct {
	BatchSize     int    `toml:"batch_size" validate:"min=1,max=100"`
	Parallelism   int    `toml:"parallelism" validate:"min=1,max=4"`
	PollInterval  string `toml:"poll_interval"`  // e.g. "60s" - sleep when the queue is empty
	Lease         string `toml:"lease"`          // e.g. "5m" - claim exclusivity window
	ShutdownGrace string `toml:"shutdown_grace"` // e.g. "30s" - wait for in-flight items on SIGTERM
}

// RotationConfig drives the source rotation scheduler
type RotationConfig struct {
	Schedule    string `toml:"schedule"`                            // Cron schedule (with seconds), e.g. "0 */10 * * * *"
	BatchK      int    `toml:"batch_k"`                             // Sources picked per rotation
	BackoffBase string `toml:"backoff_base"`                        // First backpressure delay, e.g. "1m"
	BackoffMax  string `toml:"backoff_max"`                         // Backoff ceiling, e.g. "30m"
	WorkerURL   string `toml:"worker_url" validate:"omitempty,url"` // Worker daemon base URL; empty means the [server] address
}

// ScraperConfig holds shared scraper adapter settings
type ScraperConfig struct {
	UserAgent      string  `toml:"user_agent"`
	RequestTimeout string  `toml:"request_timeout"` // e.g. "30s"
	MaxBodySize    int64   `toml:"max_body_size"`   // Response body cap in bytes
	PerHostRPS     float64 `toml:"per_host_rps"`    // Politeness: requests per second per host
	PerHostBurst   int     `toml:"per_host_burst"`
	RenderJS       bool    `toml:"render_js"`      // Allow chromedp rendering for sources that request it
	JSWaitTime     string  `toml:"js_wait_time"`   // Wait after navigation, e.g. "3s"
	RenderTimeout  string  `toml:"render_timeout"` // Per-page render budget, e.g. "45s"
}

// SourcesConfig locates the source definition files the registry is
// seeded from at startup
type SourcesConfig struct {
	DefinitionsDir string `toml:"definitions_dir"` // Directory of [[sources]] TOML files
}

// AIConfig selects and configures the scorer providers. The ai-settings
// document overrides provider/model/threshold/budget at runtime.
type AIConfig struct {
	Provider               string       `toml:"provider" validate:"oneof=claude gemini keyword"`
	MinMatchScore          int          `toml:"min_match_score" validate:"min=0,max=100"`
	DailyCostBudget        float64      `toml:"daily_cost_budget"`
	CompanyAnalysisTimeout string       `toml:"company_analysis_timeout"` // e.g. "300s"
	Claude                 ClaudeConfig `toml:"claude"`
	Gemini                 GeminiConfig `toml:"gemini"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`    // Anthropic API key (ANTHROPIC_API_KEY overrides)
	Model       string  `toml:"model"`      // default "claude-haiku-3-5-20241022"
	MaxTokens   int     `toml:"max_tokens"` // default 2048
	Timeout     string  `toml:"timeout"`    // Operation timeout as duration string
	RateLimit   string  `toml:"rate_limit"` // Minimum spacing between calls
	Temperature float32 `toml:"temperature"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"` // Gemini API key (GEMINI_API_KEY overrides)
	Model       string  `toml:"model"`   // default "gemini-3-flash-preview"
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

type ProfileConfig struct {
	Path string `toml:"path"` // Candidate profile YAML
}

// EmailConfig configures the IMAP intake watcher on the rotation driver
type EmailConfig struct {
	Enabled      bool   `toml:"enabled"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	UseTLS       bool   `toml:"use_tls"`
	PollInterval string `toml:"poll_interval"` // e.g. "2m"
}

// SMTPConfig configures outbound digest mail
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	To       string `toml:"to"`
	UseTLS   bool   `toml:"use_tls"`
}

// IsConfigured reports whether the minimum SMTP settings are present
func (s SMTPConfig) IsConfigured() bool {
	return s.Host != "" && s.Username != "" && s.Password != "" && s.From != "" && s.To != ""
}

type DigestConfig struct {
	Enabled     bool   `toml:"enabled"`
	Schedule    string `toml:"schedule"`     // Cron schedule (with seconds)
	MinPriority string `toml:"min_priority"` // HIGH, MEDIUM or LOW
	AttachPDF   bool   `toml:"attach_pdf"`
}

type CleanupConfig struct {
	Schedule      string `toml:"schedule"` // Cron schedule (with seconds)
	RetentionDays int    `toml:"retention_days" validate:"min=1"`
}

type EventsConfig struct {
	Enabled           bool              `toml:"enabled"`
	ThrottleIntervals map[string]string `toml:"throttle_intervals"` // event type -> min interval, e.g. {"queue_stats": "2s"}
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in peto.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8085,
		},
		Storage: StorageConfig{
			Path: "./data",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
			FileDir:    "./logs",
		},
		Ingest: IngestConfig{
			WebhookSecret: "", // User must provide a secret to enable the webhook
			RatePerMinute: 60,
			MaxBodyBytes:  64 * 1024,
		},
		Worker: WorkerConfig{
			BatchSize:     10,
			Parallelism:   4,
			PollInterval:  "60s",
			Lease:         "5m",
			ShutdownGrace: "30s",
		},
		Rotation: RotationConfig{
			Schedule:    "0 */10 * * * *", // Every 10 minutes
			BatchK:      5,
			BackoffBase: "1m",
			BackoffMax:  "30m",
		},
		Scraper: ScraperConfig{
			UserAgent:      "Mozilla/5.0 (compatible; Peto/1.0; +https://github.com/ternarybob/peto)",
			RequestTimeout: "30s",
			MaxBodySize:    10 * 1024 * 1024, // 10MB
			PerHostRPS:     1,                // One request per second per host
			PerHostBurst:   2,
			RenderJS:       false,
			JSWaitTime:     "3s",
			RenderTimeout:  "45s",
		},
		Sources: SourcesConfig{
			DefinitionsDir: "./sources",
		},
		AI: AIConfig{
			Provider:               "keyword", // Offline scorer until a provider key is configured
			MinMatchScore:          60,
			DailyCostBudget:        5.0,
			CompanyAnalysisTimeout: "300s",
			Claude: ClaudeConfig{
				Model:       "claude-haiku-3-5-20241022",
				MaxTokens:   2048,
				Timeout:     "2m",
				RateLimit:   "1s",
				Temperature: 0.2,
			},
			Gemini: GeminiConfig{
				Model:       "gemini-3-flash-preview",
				Timeout:     "2m",
				RateLimit:   "4s", // 15 RPM free tier
				Temperature: 0.2,
			},
		},
		Profile: ProfileConfig{
			Path: "./profile.yaml",
		},
		Email: EmailConfig{
			Enabled:      false,
			Port:         993,
			UseTLS:       true,
			PollInterval: "2m",
		},
		SMTP: SMTPConfig{
			Port:     587,
			FromName: "Peto",
			UseTLS:   true,
		},
		Digest: DigestConfig{
			Enabled:     false,
			Schedule:    "0 0 7 * * *", // Daily at 07:00
			MinPriority: "HIGH",
			AttachPDF:   true,
		},
		Cleanup: CleanupConfig{
			Schedule:      "0 30 3 * * *", // Daily at 03:30
			RetentionDays: 30,
		},
		Events: EventsConfig{
			Enabled: true,
			ThrottleIntervals: map[string]string{
				"queue_stats":   "2s",
				"item_finished": "500ms",
			},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override everything.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies PETO_* environment variable overrides
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PETO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if host := os.Getenv("PETO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("PETO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Storage
	if path := os.Getenv("PETO_STORAGE_PATH"); path != "" {
		config.Storage.Path = path
	}
	if reset := os.Getenv("PETO_STORAGE_RESET"); reset != "" {
		if r, err := strconv.ParseBool(reset); err == nil {
			config.Storage.ResetOnStartup = r
		}
	}

	// Logging
	if level := os.Getenv("PETO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PETO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Ingest
	if secret := os.Getenv("PETO_INGEST_WEBHOOK_SECRET"); secret != "" {
		config.Ingest.WebhookSecret = secret
	}
	if rate := os.Getenv("PETO_INGEST_RATE_PER_MINUTE"); rate != "" {
		if r, err := strconv.Atoi(rate); err == nil {
			config.Ingest.RatePerMinute = r
		}
	}

	// Worker
	if batch := os.Getenv("PETO_WORKER_BATCH_SIZE"); batch != "" {
		if b, err := strconv.Atoi(batch); err == nil {
			config.Worker.BatchSize = b
		}
	}
	if par := os.Getenv("PETO_WORKER_PARALLELISM"); par != "" {
		if p, err := strconv.Atoi(par); err == nil {
			config.Worker.Parallelism = p
		}
	}
	if poll := os.Getenv("PETO_WORKER_POLL_INTERVAL"); poll != "" {
		config.Worker.PollInterval = poll
	}
	if lease := os.Getenv("PETO_WORKER_LEASE"); lease != "" {
		config.Worker.Lease = lease
	}

	// Rotation
	if schedule := os.Getenv("PETO_ROTATION_SCHEDULE"); schedule != "" {
		config.Rotation.Schedule = schedule
	}
	if k := os.Getenv("PETO_ROTATION_BATCH_K"); k != "" {
		if n, err := strconv.Atoi(k); err == nil {
			config.Rotation.BatchK = n
		}
	}
	if workerURL := os.Getenv("PETO_ROTATION_WORKER_URL"); workerURL != "" {
		config.Rotation.WorkerURL = workerURL
	}

	// Scraper
	if ua := os.Getenv("PETO_SCRAPER_USER_AGENT"); ua != "" {
		config.Scraper.UserAgent = ua
	}
	if render := os.Getenv("PETO_SCRAPER_RENDER_JS"); render != "" {
		if r, err := strconv.ParseBool(render); err == nil {
			config.Scraper.RenderJS = r
		}
	}

	// Sources
	if dir := os.Getenv("PETO_SOURCES_DIR"); dir != "" {
		config.Sources.DefinitionsDir = dir
	}

	// AI
	if provider := os.Getenv("PETO_AI_PROVIDER"); provider != "" {
		config.AI.Provider = provider
	}
	if model := os.Getenv("PETO_AI_MODEL"); model != "" {
		switch config.AI.Provider {
		case "gemini":
			config.AI.Gemini.Model = model
		default:
			config.AI.Claude.Model = model
		}
	}
	if key := os.Getenv("PETO_AI_API_KEY"); key != "" {
		switch config.AI.Provider {
		case "gemini":
			config.AI.Gemini.APIKey = key
		default:
			config.AI.Claude.APIKey = key
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.AI.Claude.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.AI.Gemini.APIKey = key
	}

	// Profile
	if path := os.Getenv("PETO_PROFILE_PATH"); path != "" {
		config.Profile.Path = path
	}

	// Email intake
	if host := os.Getenv("PETO_EMAIL_HOST"); host != "" {
		config.Email.Host = host
		config.Email.Enabled = true
	}
	if user := os.Getenv("PETO_EMAIL_USERNAME"); user != "" {
		config.Email.Username = user
	}
	if pass := os.Getenv("PETO_EMAIL_PASSWORD"); pass != "" {
		config.Email.Password = pass
	}

	// SMTP
	if host := os.Getenv("PETO_SMTP_HOST"); host != "" {
		config.SMTP.Host = host
	}
	if user := os.Getenv("PETO_SMTP_USERNAME"); user != "" {
		config.SMTP.Username = user
	}
	if pass := os.Getenv("PETO_SMTP_PASSWORD"); pass != "" {
		config.SMTP.Password = pass
	}
	if to := os.Getenv("PETO_SMTP_TO"); to != "" {
		config.SMTP.To = to
	}
}

// FlagOverrides carries CLI flag values that take precedence over both
// files and environment.
type FlagOverrides struct {
	Host        string
	Port        int
	StoragePath string
	LogLevel    string
}

// ApplyFlagOverrides applies non-zero flag values onto the config
func (c *Config) ApplyFlagOverrides(flags FlagOverrides) {
	if flags.Host != "" {
		c.Server.Host = flags.Host
	}
	if flags.Port != 0 {
		c.Server.Port = flags.Port
	}
	if flags.StoragePath != "" {
		c.Storage.Path = flags.StoragePath
	}
	if flags.LogLevel != "" {
		c.Logging.Level = flags.LogLevel
	}
}

// cronParser accepts the 6-field (with seconds) schedule format used
// throughout the config.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a cron schedule string
func ValidateSchedule(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Validate checks the assembled configuration. Returned errors are
// configuration errors (exit code 2 at startup).
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	for name, d := range map[string]string{
		"worker.poll_interval":        c.Worker.PollInterval,
		"worker.lease":                c.Worker.Lease,
		"worker.shutdown_grace":       c.Worker.ShutdownGrace,
		"rotation.backoff_base":       c.Rotation.BackoffBase,
		"rotation.backoff_max":        c.Rotation.BackoffMax,
		"scraper.request_timeout":     c.Scraper.RequestTimeout,
		"scraper.js_wait_time":        c.Scraper.JSWaitTime,
		"scraper.render_timeout":      c.Scraper.RenderTimeout,
		"ai.company_analysis_timeout": c.AI.CompanyAnalysisTimeout,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	for name, s := range map[string]string{
		"rotation.schedule": c.Rotation.Schedule,
		"digest.schedule":   c.Digest.Schedule,
		"cleanup.schedule":  c.Cleanup.Schedule,
	} {
		if err := ValidateSchedule(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Email.Enabled {
		if c.Email.Host == "" || c.Email.Username == "" || c.Email.Password == "" {
			return fmt.Errorf("email intake enabled but host/username/password incomplete")
		}
	}
	if c.Digest.Enabled && !c.SMTP.IsConfigured() {
		return fmt.Errorf("digest enabled but smtp is not configured")
	}

	return nil
}

// Duration parses a duration config value, falling back when unset or
// malformed. Validate catches malformed values at startup; the fallback
// keeps runtime callers total.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction reports whether the environment is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
