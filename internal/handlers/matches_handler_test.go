package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/peto/internal/models"
)

func seedMatch(t *testing.T, deps handlerDeps, hash string, score int, priority models.MatchPriority) {
	t.Helper()
	_, err := deps.store.MatchStorage().SaveIfBetter(context.Background(), &models.JobMatch{
		URLHash: hash,
		URL:     "https://jobs.example.com/" + hash,
		Title:   "Platform Engineer",
		Company: models.CompanySnapshot{
			Slug: "example-example-com",
			Name: "Example Corp",
			Tier: models.TierA,
		},
		Score:    score,
		Priority: priority,
		Source:   models.SourceScraper,
		ScoredAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestMatchesHandler_ListSortedByScore(t *testing.T) {
	deps := newHandlerDeps(t)
	handler := NewMatchesHandler(deps.store.MatchStorage(), deps.logger)

	seedMatch(t, deps, "hash-mid", 70, models.PriorityMedium)
	seedMatch(t, deps, "hash-high", 90, models.PriorityHigh)
	seedMatch(t, deps, "hash-low", 55, models.PriorityLow)

	w := httptest.NewRecorder()
	handler.ListMatchesHandler(w, httptest.NewRequest("GET", "/api/matches", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var matches []*models.JobMatch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matches))
	require.Len(t, matches, 3)
	assert.Equal(t, "hash-high", matches[0].URLHash)
	assert.Equal(t, "hash-mid", matches[1].URLHash)
	assert.Equal(t, "hash-low", matches[2].URLHash)
}

func TestMatchesHandler_Filters(t *testing.T) {
	deps := newHandlerDeps(t)
	handler := NewMatchesHandler(deps.store.MatchStorage(), deps.logger)

	seedMatch(t, deps, "hash-high", 90, models.PriorityHigh)
	seedMatch(t, deps, "hash-mid", 70, models.PriorityMedium)
	seedMatch(t, deps, "hash-low", 55, models.PriorityLow)

	w := httptest.NewRecorder()
	handler.ListMatchesHandler(w, httptest.NewRequest("GET", "/api/matches?min_score=60", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var matches []*models.JobMatch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matches))
	assert.Len(t, matches, 2)

	// Priority is case-insensitive
	w = httptest.NewRecorder()
	handler.ListMatchesHandler(w, httptest.NewRequest("GET", "/api/matches?priority=high", nil))
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "hash-high", matches[0].URLHash)

	w = httptest.NewRecorder()
	handler.ListMatchesHandler(w, httptest.NewRequest("GET", "/api/matches?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "hash-high", matches[0].URLHash)
}

func TestMatchesHandler_InvalidFilters(t *testing.T) {
	deps := newHandlerDeps(t)
	handler := NewMatchesHandler(deps.store.MatchStorage(), deps.logger)

	tests := []struct {
		name  string
		query string
	}{
		{"min_score not a number", "?min_score=abc"},
		{"min_score out of range", "?min_score=150"},
		{"unknown priority", "?priority=URGENT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ListMatchesHandler(w, httptest.NewRequest("GET", "/api/matches"+tt.query, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestMatchesHandler_EmptyListIsArray(t *testing.T) {
	deps := newHandlerDeps(t)
	handler := NewMatchesHandler(deps.store.MatchStorage(), deps.logger)

	w := httptest.NewRecorder()
	handler.ListMatchesHandler(w, httptest.NewRequest("GET", "/api/matches", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
