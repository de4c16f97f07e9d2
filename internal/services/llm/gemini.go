package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

const (
	defaultGeminiModel     = "gemini-3-flash-preview"
	defaultGeminiTimeout   = 60 * time.Second
	defaultGeminiRateLimit = 2 * time.Second
)

// GeminiScorer scores postings through the Gemini generateContent API
type GeminiScorer struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	limiter     *rate.Limiter
	retry       *RetryConfig
	costs       interfaces.CostTracker
	profile     *models.Profile
	logger      arbor.ILogger
}

// NewGeminiScorer creates a Gemini-backed scorer. The API key comes from
// config with the GEMINI_API_KEY environment override already applied.
func NewGeminiScorer(ctx context.Context, cfg *common.GeminiConfig, profile *models.Profile, costs interfaces.CostTracker, logger arbor.ILogger) (interfaces.Scorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini scorer requires an API key")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	spacing := common.Duration(cfg.RateLimit, defaultGeminiRateLimit)

	return &GeminiScorer{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     common.Duration(cfg.Timeout, defaultGeminiTimeout),
		limiter:     rate.NewLimiter(rate.Every(spacing), 1),
		retry:       NewDefaultRetryConfig(),
		costs:       costs,
		profile:     profile,
		logger:      logger,
	}, nil
}

// Name identifies the provider
func (s *GeminiScorer) Name() string {
	return "gemini"
}

// ScoreJob evaluates a posting against the candidate profile
func (s *GeminiScorer) ScoreJob(ctx context.Context, posting *models.JobPosting, company *models.Company) (*models.ScoreResult, error) {
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
		Msg("Gemini scored posting")

	return result, nil
}

// AnalyzeCompany extracts company facts from scraped page content
func (s *GeminiScorer) AnalyzeCompany(ctx context.Context, company *models.Company, content string) (*models.CompanyFacts, error) {
	prompt := buildAnalyzePrompt(company, content)

	raw, err := s.complete(ctx, analyzeSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	return parseCompanyFacts(raw)
}

// HealthCheck runs a minimal probe against the generateContent API
func (s *GeminiScorer) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := s.client.Models.GenerateContent(probeCtx, s.model,
		[]*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}, nil)
	if err != nil {
		return fmt.Errorf("gemini probe failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return fmt.Errorf("gemini probe returned no candidates")
	}
	return nil
}

// Close releases resources. The genai client holds no connections that
// outlive its requests.
func (s *GeminiScorer) Close() error {
	return nil
}

// complete issues one generateContent call with budget check, call
// spacing and rate-limit retry, and records token spend on success.
func (s *GeminiScorer) complete(ctx context.Context, system, prompt string) (string, error) {
	if !s.costs.Allow() {
		return "", models.NewKindError(models.ErrKindRateLimited, "daily cost budget exhausted", nil)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", models.NewKindError(models.ErrKindLLMFailed, "gemini call cancelled while waiting for rate limiter", err)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	if s.temperature > 0 {
		config.Temperature = genai.Ptr(s.temperature)
	}

	var resp *genai.GenerateContentResponse
	var apiErr error

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		resp, apiErr = s.client.Models.GenerateContent(callCtx, s.model, contents, config)
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
			Msg("Retrying Gemini API call")

		select {
		case <-callCtx.Done():
			return "", models.NewKindError(models.ErrKindLLMFailed, "gemini call cancelled during backoff", callCtx.Err())
		case <-time.After(backoff):
		}
	}

	if apiErr != nil {
		if IsRateLimitError(apiErr) {
			return "", models.NewKindError(models.ErrKindRateLimited, "gemini rate limited", apiErr)
		}
		return "", models.NewKindError(models.ErrKindLLMFailed, "gemini call failed", apiErr)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", models.NewKindError(models.ErrKindLLMFailed, "gemini returned no candidates", nil)
	}

	if resp.UsageMetadata != nil {
		s.costs.Record(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	}

	text := resp.Text()
	if text == "" {
		return "", models.NewKindError(models.ErrKindLLMFailed, "gemini returned empty response", nil)
	}

	return text, nil
}
