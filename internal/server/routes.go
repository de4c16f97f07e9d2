package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Ingest routes (HMAC-authenticated webhook surface)
	mux.HandleFunc("/ingest/job", s.app.IngestHandler.JobHandler)     // POST - single posting
	mux.HandleFunc("/ingest/batch", s.app.IngestHandler.BatchHandler) // POST - positional batch

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Queue observability
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)    // GET - process + storage status
	mux.HandleFunc("/api/queue/stats", s.app.QueueHandler.GetStatsHandler) // GET - per-state counts
	mux.HandleFunc("/api/queue/items/", s.app.QueueHandler.GetItemHandler) // GET /{id} - item fate

	// API routes - Matches
	mux.HandleFunc("/api/matches", s.app.MatchesHandler.ListMatchesHandler) // GET - score-ordered

	// API routes - Source registry and rotation driver calls
	mux.HandleFunc("/api/sources", s.app.SourcesHandler.ListSourcesHandler) // GET - registry with health
	mux.HandleFunc("/api/sources/", s.handleSourceRoutes)                   // POST /{id}/attempt
	mux.HandleFunc("/api/rotation/pick", s.app.RotationHandler.PickHandler) // GET ?k=N

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/healthz", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleSourceRoutes routes /api/sources/{id}/... requests
func (s *Server) handleSourceRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/sources/{id}/attempt
	if strings.HasSuffix(path, "/attempt") && len(path) > len("/api/sources//attempt") {
		s.app.RotationHandler.RecordAttemptHandler(w, r)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}
