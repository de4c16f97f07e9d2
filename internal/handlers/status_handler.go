package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
)

// StatusHandler reports process, storage and dedup health
type StatusHandler struct {
	queue     interfaces.QueueManager
	store     interfaces.StorageManager
	dedup     interfaces.DedupCache
	pool      interfaces.WorkerPool
	logger    arbor.ILogger
	startedAt time.Time
}

// NewStatusHandler creates a new StatusHandler. pool may be nil when the
// process runs no worker loop.
func NewStatusHandler(queue interfaces.QueueManager, store interfaces.StorageManager, dedup interfaces.DedupCache, pool interfaces.WorkerPool, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		queue:     queue,
		store:     store,
		dedup:     dedup,
		pool:      pool,
		logger:    logger,
		startedAt: time.Now(),
	}
}

type statusResponse struct {
	Status        string                 `json:"status"` // "ok" or "degraded"
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Queue         *interfaces.QueueStats `json:"queue,omitempty"`
	Dedup         interfaces.DedupStats  `json:"dedup"`
	Matches       int                    `json:"matches"`
	Sources       int                    `json:"sources"`
	Companies     int                    `json:"companies"`
	InFlight      int                    `json:"in_flight"`
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ctx := r.Context()
	resp := statusResponse{
		Status:        "ok",
		Version:       common.GetVersion(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Dedup:         h.dedup.Stats(),
	}

	stats, err := h.queue.Stats(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Status check: queue stats failed")
		resp.Status = "degraded"
	} else {
		resp.Queue = stats
	}

	if n, err := h.store.MatchStorage().Count(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Status check: match count failed")
		resp.Status = "degraded"
	} else {
		resp.Matches = n
	}

	if n, err := h.store.SourceStorage().Count(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Status check: source count failed")
		resp.Status = "degraded"
	} else {
		resp.Sources = n
	}

	if n, err := h.store.CompanyStorage().Count(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Status check: company count failed")
		resp.Status = "degraded"
	} else {
		resp.Companies = n
	}

	if h.pool != nil {
		resp.InFlight = h.pool.InFlight()
	}

	WriteJSON(w, http.StatusOK, resp)
}
