package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
)

func TestDailyCostTrackerBudget(t *testing.T) {
	// $1/M input, $2/M output keeps the arithmetic readable
	tracker := NewDailyCostTracker(0.01, 1.0, 2.0, arbor.NewLogger())

	assert.True(t, tracker.Allow())

	// 4000 in + 3000 out = 0.004 + 0.006 = $0.01, exactly the budget
	tracker.Record(4000, 3000)
	assert.InDelta(t, 0.01, tracker.SpentToday(), 1e-9)
	assert.False(t, tracker.Allow())

	// Raising the budget re-opens the gate
	tracker.SetBudget(0.02)
	assert.True(t, tracker.Allow())
}

func TestDailyCostTrackerZeroBudgetUnlimited(t *testing.T) {
	tracker := NewDailyCostTracker(0, claudeInputPerMTok, claudeOutputPerMTok, arbor.NewLogger())

	tracker.Record(1_000_000, 1_000_000)
	assert.True(t, tracker.Allow())
	assert.Greater(t, tracker.SpentToday(), 0.0)
}

func TestDailyCostTrackerAccumulates(t *testing.T) {
	tracker := NewDailyCostTracker(100, 1.0, 1.0, arbor.NewLogger())

	tracker.Record(500_000, 0)
	tracker.Record(0, 500_000)
	assert.InDelta(t, 1.0, tracker.SpentToday(), 1e-9)
}
