package llm

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
)

// Per-million-token prices used to estimate spend. These track the
// published rates for the default models; exact billing is the
// provider's ledger, this counter only has to be close enough to stop
// a runaway day.
const (
	claudeInputPerMTok  = 0.80
	claudeOutputPerMTok = 4.00
	geminiInputPerMTok  = 0.30
	geminiOutputPerMTok = 2.50
)

// DailyCostTracker accumulates estimated provider spend and refuses
// further calls once the configured daily budget is reached. The
// counter resets at UTC midnight. A budget of zero disables the cap.
type DailyCostTracker struct {
	mu            sync.Mutex
	day           string
	spent         float64
	budget        float64
	inputPerMTok  float64
	outputPerMTok float64
	logger        arbor.ILogger
	warned        bool
}

// NewDailyCostTracker creates a tracker with the given daily budget in
// dollars and per-million-token prices.
func NewDailyCostTracker(budget, inputPerMTok, outputPerMTok float64, logger arbor.ILogger) *DailyCostTracker {
	return &DailyCostTracker{
		day:           utcDay(time.Now()),
		budget:        budget,
		inputPerMTok:  inputPerMTok,
		outputPerMTok: outputPerMTok,
		logger:        logger,
	}
}

// Compile-time assertion
var _ interfaces.CostTracker = (*DailyCostTracker)(nil)

// Allow reports whether another provider call fits within today's budget
func (t *DailyCostTracker) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollDay()

	if t.budget <= 0 {
		return true
	}
	if t.spent < t.budget {
		return true
	}

	if !t.warned {
		t.warned = true
		t.logger.Warn().
			Float64("spent", t.spent).
			Float64("budget", t.budget).
			Msg("Daily LLM cost budget exhausted, refusing further calls until midnight UTC")
	}
	return false
}

// Record adds the estimated cost of a completed call
func (t *DailyCostTracker) Record(inputTokens, outputTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollDay()
	t.spent += float64(inputTokens)/1e6*t.inputPerMTok +
		float64(outputTokens)/1e6*t.outputPerMTok
}

// SpentToday returns the running total in dollars
func (t *DailyCostTracker) SpentToday() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollDay()
	return t.spent
}

// SetBudget updates the daily cap. The ai-settings document can raise
// or lower it at runtime; spend already accumulated today is kept.
func (t *DailyCostTracker) SetBudget(budget float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if budget != t.budget {
		t.budget = budget
		t.warned = false
	}
}

// SetPricing updates the per-token prices when the active provider
// changes. Spend is a single daily counter across providers.
func (t *DailyCostTracker) SetPricing(inputPerMTok, outputPerMTok float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inputPerMTok = inputPerMTok
	t.outputPerMTok = outputPerMTok
}

// rollDay resets the counter when the UTC date changes. Caller holds the lock.
func (t *DailyCostTracker) rollDay() {
	today := utcDay(time.Now())
	if today == t.day {
		return
	}
	if t.spent > 0 {
		t.logger.Info().
			Str("day", t.day).
			Float64("spent", t.spent).
			Msg("Daily LLM cost counter reset")
	}
	t.day = today
	t.spent = 0
	t.warned = false
}

func utcDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
