package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/peto/internal/models"
)

func TestParseScoreResult(t *testing.T) {
	raw := `{"score": 85, "priority": "HIGH", "matched_skills": ["Go"], "missing_skills": ["Rust"], "keywords": ["backend"], "reasoning": "strong match"}`

	result, err := parseScoreResult(raw)
	require.NoError(t, err)

	assert.Equal(t, 85, result.Score)
	assert.Equal(t, models.PriorityHigh, result.Priority)
	assert.Equal(t, []string{"Go"}, result.MatchedSkills)
	assert.Equal(t, "strong match", result.Reasoning)
}

func TestParseScoreResultStripsFences(t *testing.T) {
	raw := "Here is the assessment:\n```json\n{\"score\": 62, \"priority\": \"medium\"}\n```"

	result, err := parseScoreResult(raw)
	require.NoError(t, err)

	assert.Equal(t, 62, result.Score)
	assert.Equal(t, models.PriorityMedium, result.Priority)
}

func TestParseScoreResultClampsAndDerivesPriority(t *testing.T) {
	result, err := parseScoreResult(`{"score": 150, "priority": "URGENT"}`)
	require.NoError(t, err)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, models.PriorityHigh, result.Priority)

	result, err = parseScoreResult(`{"score": -5}`)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Score)
	assert.Equal(t, models.PriorityLow, result.Priority)
}

func TestParseScoreResultRejectsGarbage(t *testing.T) {
	_, err := parseScoreResult("I cannot answer that.")
	require.Error(t, err)
	assert.Equal(t, models.ErrKindLLMFailed, models.KindOf(err))
}

func TestParseCompanyFactsNormalizesSize(t *testing.T) {
	tests := []struct {
		raw  string
		want models.CompanySize
	}{
		{`{"about": "x", "size": "LARGE"}`, models.SizeLarge},
		{`{"about": "x", "size": "enterprise"}`, models.SizeLarge},
		{`{"about": "x", "size": "STARTUP"}`, models.SizeSmall},
		{`{"about": "x", "size": "medium"}`, models.SizeMedium},
		{`{"about": "x", "size": "galactic"}`, models.SizeUnknown},
		{`{"about": "x"}`, models.SizeUnknown},
	}

	for _, tt := range tests {
		facts, err := parseCompanyFacts(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, facts.Size, tt.raw)
	}
}

func TestPriorityForScore(t *testing.T) {
	assert.Equal(t, models.PriorityHigh, PriorityForScore(80))
	assert.Equal(t, models.PriorityHigh, PriorityForScore(100))
	assert.Equal(t, models.PriorityMedium, PriorityForScore(60))
	assert.Equal(t, models.PriorityMedium, PriorityForScore(79))
	assert.Equal(t, models.PriorityLow, PriorityForScore(59))
	assert.Equal(t, models.PriorityLow, PriorityForScore(0))
}

func TestBuildScorePromptIncludesProfileAndPosting(t *testing.T) {
	posting := &models.JobPosting{
		URL:         "https://example.com/jobs/9",
		Title:       "Go Engineer",
		CompanyName: "Acme",
		Description: strings.Repeat("very long description ", 1000),
	}
	company := &models.Company{Name: "Acme", Size: models.SizeMedium}

	prompt := buildScorePrompt(posting, company, testProfile())

	assert.Contains(t, prompt, "Go Engineer")
	assert.Contains(t, prompt, "Acme")
	assert.Contains(t, prompt, "Backend Engineer")
	// Long descriptions are truncated to keep token spend bounded
	assert.Contains(t, prompt, "[truncated]")
	assert.Less(t, len(prompt), 20_000)
}
