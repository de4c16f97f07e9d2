package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// defaultPickK applies when /api/rotation/pick is called without k
const defaultPickK = 5

// RotationHandler is the server side of the rotation driver's pipeline
// calls: rotation picks and scrape attempt reports.
type RotationHandler struct {
	backend interfaces.RotationBackend
	logger  arbor.ILogger
}

// NewRotationHandler creates a new RotationHandler
func NewRotationHandler(backend interfaces.RotationBackend, logger arbor.ILogger) *RotationHandler {
	return &RotationHandler{
		backend: backend,
		logger:  logger,
	}
}

// PickHandler handles GET /api/rotation/pick?k=N. The response carries the
// picked sources plus the queue depth and high watermark the driver's
// backpressure check needs.
func (h *RotationHandler) PickHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	k := defaultPickK
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		n, err := strconv.Atoi(kStr)
		if err != nil || n < 1 || n > 100 {
			WriteError(w, http.StatusBadRequest, "k must be 1-100")
			return
		}
		k = n
	}

	pick, err := h.backend.PickRotation(r.Context(), k)
	if err != nil {
		h.logger.Error().Err(err).Int("k", k).Msg("Rotation pick failed")
		WriteError(w, http.StatusInternalServerError, "Rotation pick failed")
		return
	}

	WriteJSON(w, http.StatusOK, pick)
}

// RecordAttemptHandler handles POST /api/sources/{id}/attempt, the driver's
// report of one finished scrape.
func (h *RotationHandler) RecordAttemptHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/sources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Source ID is required")
		return
	}

	var result models.SourceAttemptResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if result.At.IsZero() {
		result.At = time.Now()
	}

	if err := h.backend.RecordResult(r.Context(), id, &result); err != nil {
		if models.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "Source not found")
			return
		}
		h.logger.Error().Err(err).Str("source_id", id).Msg("Failed to record attempt")
		WriteError(w, http.StatusInternalServerError, "Failed to record attempt")
		return
	}

	WriteSuccess(w, "attempt recorded")
}
