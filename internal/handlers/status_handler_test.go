package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

func TestStatusHandler_Get(t *testing.T) {
	deps := newHandlerDeps(t)
	handler := NewStatusHandler(deps.queue, deps.store, deps.dedup, nil, deps.logger)

	result, err := deps.intake.SubmitJob(context.Background(), &interfaces.JobSubmission{
		URL: "https://jobs.example.com/postings/42",
	})
	require.NoError(t, err)
	require.True(t, result.Accepted)
	deps.dedup.Wait()
	seedMatch(t, deps, "hash-1", 80, models.PriorityHigh)

	w := httptest.NewRecorder()
	handler.GetStatusHandler(w, httptest.NewRequest("GET", "/api/status", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Version)
	require.NotNil(t, resp.Queue)
	assert.Equal(t, 1, resp.Queue.Pending)
	assert.Equal(t, 1, resp.Matches)
	assert.Equal(t, 0, resp.InFlight)
	assert.Equal(t, uint64(1), resp.Dedup.Entries, "Accepted submissions prime the dedup cache")
}

func TestStatusHandler_MethodNotAllowed(t *testing.T) {
	deps := newHandlerDeps(t)
	handler := NewStatusHandler(deps.queue, deps.store, deps.dedup, nil, deps.logger)

	w := httptest.NewRecorder()
	handler.GetStatusHandler(w, httptest.NewRequest("POST", "/api/status", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
