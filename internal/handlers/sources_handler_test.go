package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/peto/internal/models"
)

func seedSource(t *testing.T, deps handlerDeps, id string) {
	t.Helper()
	err := deps.sources.EnsureSource(context.Background(), &models.Source{
		SourceID:  id,
		CompanyID: "example-example-com",
		Kind:      models.KindGreenhouseBoard,
		Enabled:   true,
		Tier:      models.TierA,
		BaseURL:   "https://boards.greenhouse.io/" + id,
	})
	require.NoError(t, err)
}

func TestSourcesHandler_List(t *testing.T) {
	deps := newHandlerDeps(t)
	handler := NewSourcesHandler(deps.sources, deps.logger)

	seedSource(t, deps, "example-board")
	seedSource(t, deps, "example-rss")

	w := httptest.NewRecorder()
	handler.ListSourcesHandler(w, httptest.NewRequest("GET", "/api/sources", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var sources []*models.Source
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sources))
	require.Len(t, sources, 2)
	for _, s := range sources {
		assert.InDelta(t, 1.0, s.HealthScore, 0.001, "New sources start healthy")
	}
}

func TestSourcesHandler_EmptyListIsArray(t *testing.T) {
	deps := newHandlerDeps(t)
	handler := NewSourcesHandler(deps.sources, deps.logger)

	w := httptest.NewRecorder()
	handler.ListSourcesHandler(w, httptest.NewRequest("GET", "/api/sources", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
