package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// SourcesHandler serves the scrape source registry
type SourcesHandler struct {
	sources interfaces.SourceService
	logger  arbor.ILogger
}

// NewSourcesHandler creates a new SourcesHandler
func NewSourcesHandler(sources interfaces.SourceService, logger arbor.ILogger) *SourcesHandler {
	return &SourcesHandler{
		sources: sources,
		logger:  logger,
	}
}

// ListSourcesHandler handles GET /api/sources. The listing carries each
// source's health score, counters and recent attempt history.
func (h *SourcesHandler) ListSourcesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sources, err := h.sources.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sources")
		WriteError(w, http.StatusInternalServerError, "Failed to list sources")
		return
	}

	// Return sources array directly; nil becomes an empty array
	if sources == nil {
		sources = []*models.Source{}
	}

	WriteJSON(w, http.StatusOK, sources)
}
