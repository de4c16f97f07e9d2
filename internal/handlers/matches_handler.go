package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// MatchesHandler serves the scored-match collection
type MatchesHandler struct {
	matches interfaces.MatchStorage
	logger  arbor.ILogger
}

// NewMatchesHandler creates a new MatchesHandler
func NewMatchesHandler(matches interfaces.MatchStorage, logger arbor.ILogger) *MatchesHandler {
	return &MatchesHandler{
		matches: matches,
		logger:  logger,
	}
}

// ListMatchesHandler handles GET /api/matches. Results are score-ordered;
// min_score and priority narrow the listing.
func (h *MatchesHandler) ListMatchesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit, offset := GetLimitOffset(r)
	opts := &interfaces.MatchListOptions{
		Limit:       limit,
		Offset:      offset,
		SortByScore: true,
	}

	if minScore := r.URL.Query().Get("min_score"); minScore != "" {
		n, err := strconv.Atoi(minScore)
		if err != nil || n < 0 || n > 100 {
			WriteError(w, http.StatusBadRequest, "min_score must be 0-100")
			return
		}
		opts.MinScore = n
	}

	if priority := r.URL.Query().Get("priority"); priority != "" {
		switch p := models.MatchPriority(strings.ToUpper(priority)); p {
		case models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
			opts.Priority = p
		default:
			WriteError(w, http.StatusBadRequest, "priority must be HIGH, MEDIUM or LOW")
			return
		}
	}

	matches, err := h.matches.List(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list matches")
		WriteError(w, http.StatusInternalServerError, "Failed to list matches")
		return
	}

	if matches == nil {
		matches = []*models.JobMatch{}
	}

	WriteJSON(w, http.StatusOK, matches)
}
