package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/models"
)

func testProfile() *models.Profile {
	return &models.Profile{
		Name:          "Test Candidate",
		Title:         "Backend Engineer",
		Skills:        []string{"Go", "PostgreSQL", "Kubernetes"},
		FavorKeywords: []string{"distributed systems"},
		AvoidKeywords: []string{"on-call"},
	}
}

func TestKeywordScorerMatchesSkills(t *testing.T) {
	scorer := NewKeywordScorer(testProfile(), arbor.NewLogger())

	posting := &models.JobPosting{
		URL:         "https://example.com/jobs/1",
		Title:       "Senior Go Engineer",
		Description: "You will build distributed systems in Go with PostgreSQL and Kubernetes.",
	}

	result, err := scorer.ScoreJob(context.Background(), posting, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Go", "Kubernetes", "PostgreSQL"}, result.MatchedSkills)
	assert.Empty(t, result.MissingSkills)
	assert.Contains(t, result.Keywords, "distributed systems")
	// All skills plus one favor keyword: 70 + 5
	assert.Equal(t, 75, result.Score)
	assert.Equal(t, models.PriorityMedium, result.Priority)
}

func TestKeywordScorerAvoidPenalty(t *testing.T) {
	scorer := NewKeywordScorer(testProfile(), arbor.NewLogger())

	posting := &models.JobPosting{
		URL:         "https://example.com/jobs/2",
		Title:       "Go Engineer",
		Description: "Go and PostgreSQL. Weekly on-call rotation.",
	}

	result, err := scorer.ScoreJob(context.Background(), posting, nil)
	require.NoError(t, err)

	// 2 of 3 skills = 46, minus 15 for the avoid keyword
	assert.Equal(t, 31, result.Score)
	assert.Contains(t, result.Keywords, "-on-call")
	assert.Equal(t, models.PriorityLow, result.Priority)
}

func TestKeywordScorerRemoteMismatch(t *testing.T) {
	profile := testProfile()
	profile.RemoteOnly = true
	scorer := NewKeywordScorer(profile, arbor.NewLogger())

	onsite := &models.JobPosting{
		Title:       "Go Engineer",
		Location:    "Sydney office",
		Description: "Go, PostgreSQL, Kubernetes.",
	}
	result, err := scorer.ScoreJob(context.Background(), onsite, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, result.Score)
	assert.Contains(t, result.Reasoning, "not remote")

	remote := &models.JobPosting{
		Title:       "Go Engineer",
		Location:    "Remote",
		Description: "Go, PostgreSQL, Kubernetes.",
	}
	result, err = scorer.ScoreJob(context.Background(), remote, nil)
	require.NoError(t, err)
	assert.Equal(t, 70, result.Score)
}

func TestKeywordScorerDeterministic(t *testing.T) {
	scorer := NewKeywordScorer(testProfile(), arbor.NewLogger())

	posting := &models.JobPosting{
		Title:       "Platform Engineer",
		Description: "Kubernetes platform work with Go services.",
	}

	first, err := scorer.ScoreJob(context.Background(), posting, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := scorer.ScoreJob(context.Background(), posting, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestKeywordScorerAnalyzeCompany(t *testing.T) {
	scorer := NewKeywordScorer(testProfile(), arbor.NewLogger())

	content := "# Acme\n\nAcme builds rockets for small satellites.\n\nFounded in 2015."
	facts, err := scorer.AnalyzeCompany(context.Background(), &models.Company{Name: "Acme"}, content)
	require.NoError(t, err)

	assert.Equal(t, "Acme builds rockets for small satellites.", facts.About)
	assert.Equal(t, models.SizeUnknown, facts.Size)
}

func TestContainsTermBoundaries(t *testing.T) {
	tests := []struct {
		text string
		term string
		want bool
	}{
		{"we use go daily", "go", true},
		{"we use go, daily", "go", true},
		{"search on google", "go", false},
		{"golang shop", "go", false},
		{"modern c++ codebase", "c++", true},
		{"c# and .net", "c#", true},
		{"", "go", false},
		{"anything", "", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, containsTerm(tt.text, tt.term), "text=%q term=%q", tt.text, tt.term)
	}
}
