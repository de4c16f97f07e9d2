package llm

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// Factory builds and caches scorer providers. The active provider and
// model come from the ai-settings document, which can change between
// items; built scorers are cached by provider and model so a settings
// flip does not reconnect on every call. One cost tracker is shared
// across providers so the daily budget covers total LLM spend.
type Factory struct {
	cfg     *common.AIConfig
	profile *models.Profile
	logger  arbor.ILogger
	costs   *DailyCostTracker

	mu      sync.Mutex
	scorers map[string]interfaces.Scorer
}

// NewFactory creates a scorer factory
func NewFactory(cfg *common.AIConfig, profile *models.Profile, logger arbor.ILogger) *Factory {
	return &Factory{
		cfg:     cfg,
		profile: profile,
		logger:  logger,
		costs:   NewDailyCostTracker(cfg.DailyCostBudget, claudeInputPerMTok, claudeOutputPerMTok, logger),
		scorers: make(map[string]interfaces.Scorer),
	}
}

// Compile-time assertion
var _ interfaces.ScorerFactory = (*Factory)(nil)

// CostTracker exposes the shared spend counter for status reporting
func (f *Factory) CostTracker() interfaces.CostTracker {
	return f.costs
}

// Scorer returns the provider selected by the given settings, building
// it on first use. A cloud provider that cannot be built (missing API
// key) falls back to the offline keyword scorer rather than stalling
// the pipeline.
func (f *Factory) Scorer(ctx context.Context, settings models.AISettings) (interfaces.Scorer, error) {
	provider := settings.Provider
	if provider == "" {
		provider = f.cfg.Provider
	}
	if provider == "" {
		provider = "keyword"
	}

	budget := settings.DailyCostBudget
	if budget <= 0 {
		budget = f.cfg.DailyCostBudget
	}
	f.costs.SetBudget(budget)

	key := provider + "/" + settings.Model

	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.scorers[key]; ok {
		return s, nil
	}

	s, err := f.build(ctx, provider, settings.Model)
	if err != nil {
		f.logger.Warn().
			Err(err).
			Str("provider", provider).
			Msg("Scorer provider unavailable, falling back to keyword scorer")
		s = NewKeywordScorer(f.profile, f.logger)
	}

	f.scorers[key] = s
	return s, nil
}

// build constructs one provider instance
func (f *Factory) build(ctx context.Context, provider, model string) (interfaces.Scorer, error) {
	switch provider {
	case "claude":
		cfg := f.cfg.Claude
		if model != "" {
			cfg.Model = model
		}
		f.costs.SetPricing(claudeInputPerMTok, claudeOutputPerMTok)
		return NewClaudeScorer(&cfg, f.profile, f.costs, f.logger)

	case "gemini":
		cfg := f.cfg.Gemini
		if model != "" {
			cfg.Model = model
		}
		f.costs.SetPricing(geminiInputPerMTok, geminiOutputPerMTok)
		return NewGeminiScorer(ctx, &cfg, f.profile, f.costs, f.logger)

	default:
		return NewKeywordScorer(f.profile, f.logger), nil
	}
}

// Close shuts down every cached provider
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for key, s := range f.scorers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.scorers, key)
	}
	return firstErr
}
