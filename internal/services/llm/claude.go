package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

const (
	defaultClaudeModel     = "claude-haiku-3-5-20241022"
	defaultClaudeMaxTokens = 2048
	defaultClaudeTimeout   = 60 * time.Second
	defaultClaudeRateLimit = 2 * time.Second
)

// ClaudeScorer scores postings through the Anthropic Messages API
type ClaudeScorer struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	limiter     *rate.Limiter
	retry       *RetryConfig
	costs       interfaces.CostTracker
	profile     *models.Profile
	logger      arbor.ILogger
}

// NewClaudeScorer creates a Claude-backed scorer. The API key comes from
// config with the ANTHROPIC_API_KEY environment override already applied.
func NewClaudeScorer(cfg *common.ClaudeConfig, profile *models.Profile, costs interfaces.CostTracker, logger arbor.ILogger) (interfaces.Scorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("claude scorer requires an API key")
	}

	model := cfg.Model
	if model == "" {
		model = defaultClaudeModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
	)

	spacing := common.Duration(cfg.RateLimit, defaultClaudeRateLimit)

	return &ClaudeScorer{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     common.Duration(cfg.Timeout, defaultClaudeTimeout),
		limiter:     rate.NewLimiter(rate.Every(spacing), 1),
		retry:       NewDefaultRetryConfig(),
		costs:       costs,
		profile:     profile,
		logger:      logger,
	}, nil
}

// Name identifies the provider
func (s *ClaudeScorer) Name() string {
	return "claude"
}

// ScoreJob evaluates a posting against the candidate profile
func (s *ClaudeScorer) ScoreJob(ctx context.Context, posting *models.JobPosting, company *models.Company) (*models.ScoreResult, error) {
	prompt := buildScorePrompt(posting, company, s.profile)

	raw, err := s.complete(ctx, scoreSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	result, err := parseScoreResult(raw)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("url", posting.URL).
		Int("score", result.Score).
		Str("priority", string(result.Priority)).
		Msg("Claude scored posting")

	return result, nil
}

// AnalyzeCompany extracts company facts from scraped page content
func (s *ClaudeScorer) AnalyzeCompany(ctx context.Context, company *models.Company, content string) (*models.CompanyFacts, error) {
	prompt := buildAnalyzePrompt(company, content)

	raw, err := s.complete(ctx, analyzeSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	return parseCompanyFacts(raw)
}

// HealthCheck runs a minimal probe against the Messages API
func (s *ClaudeScorer) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := s.client.Messages.New(probeCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 8,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return fmt.Errorf("claude probe failed: %w", err)
	}
	if len(resp.Content) == 0 {
		return fmt.Errorf("claude probe returned empty response")
	}
	return nil
}

// Close releases resources. The Anthropic client holds no connections
// that outlive its requests.
func (s *ClaudeScorer) Close() error {
	return nil
}

// complete issues one Messages call with budget check, call spacing and
// rate-limit retry, and records token spend on success.
func (s *ClaudeScorer) complete(ctx context.Context, system, prompt string) (string, error) {
	if !s.costs.Allow() {
		return "", models.NewKindError(models.ErrKindRateLimited, "daily cost budget exhausted", nil)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", models.NewKindError(models.ErrKindLLMFailed, "claude call cancelled while waiting for rate limiter", err)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
	}
	if s.temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.temperature))
	}

	var resp *anthropic.Message
	var apiErr error

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		resp, apiErr = s.client.Messages.New(callCtx, params)
		if apiErr == nil {
			break
		}

		if attempt == s.retry.MaxRetries || !IsRateLimitError(apiErr) {
			break
		}

		backoff := s.retry.CalculateBackoff(attempt, ExtractRetryDelay(apiErr))
		s.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying Claude API call")

		select {
		case <-callCtx.Done():
			return "", models.NewKindError(models.ErrKindLLMFailed, "claude call cancelled during backoff", callCtx.Err())
		case <-time.After(backoff):
		}
	}

	if apiErr != nil {
		if IsRateLimitError(apiErr) {
			return "", models.NewKindError(models.ErrKindRateLimited, "claude rate limited", apiErr)
		}
		return "", models.NewKindError(models.ErrKindLLMFailed, "claude call failed", apiErr)
	}

	s.costs.Record(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", models.NewKindError(models.ErrKindLLMFailed, "claude returned empty response", nil)
	}

	return text.String(), nil
}
