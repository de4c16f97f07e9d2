package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// QueueHandler serves queue observability: depth counters and item fate
type QueueHandler struct {
	queue  interfaces.QueueManager
	logger arbor.ILogger
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(queue interfaces.QueueManager, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		queue:  queue,
		logger: logger,
	}
}

// GetStatsHandler handles GET /api/queue/stats
func (h *QueueHandler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue stats")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

// GetItemHandler handles GET /api/queue/items/{id}. Every submission's
// fate stays queryable here, including skipped and failed items.
func (h *QueueHandler) GetItemHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/queue/items/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Item ID is required")
		return
	}

	item, err := h.queue.Get(r.Context(), id)
	if err != nil {
		if models.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "Queue item not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get queue item")
		WriteError(w, http.StatusInternalServerError, "Failed to get queue item")
		return
	}

	WriteJSON(w, http.StatusOK, item)
}
