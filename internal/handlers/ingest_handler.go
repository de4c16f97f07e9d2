package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"golang.org/x/time/rate"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body
const signatureHeader = "X-Ingest-Signature"

// replayWindow is how long a body+signature pair is remembered; a second
// request with the same signature inside the window is rejected.
const replayWindow = 5 * time.Minute

// limiterIdleTimeout is how long an idle client keeps its token bucket
const limiterIdleTimeout = 10 * time.Minute

// IngestHandler serves the authenticated webhook surface. Every request
// is rate-limited per client, HMAC-verified against the raw body and
// checked against the replay guard before it reaches intake.
type IngestHandler struct {
	intake   interfaces.IntakeService
	cfg      *common.IngestConfig
	logger   arbor.ILogger
	validate *validator.Validate
	replay   *replayGuard

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIngestHandler creates a new IngestHandler
func NewIngestHandler(intake interfaces.IntakeService, cfg *common.IngestConfig, logger arbor.ILogger) *IngestHandler {
	return &IngestHandler{
		intake:   intake,
		cfg:      cfg,
		logger:   logger,
		validate: validator.New(),
		replay:   newReplayGuard(replayWindow),
		limiters: make(map[string]*clientLimiter),
	}
}

// ingestJobRequest is the single-posting webhook body. Source defaults
// to WEBHOOK; the rotation driver's inbox watcher sets EMAIL.
type ingestJobRequest struct {
	URL         string `json:"url" validate:"required,url"`
	CompanyName string `json:"company_name"`
	Website     string `json:"website" validate:"omitempty,url"`
	SourceLabel string `json:"source_label"`
	Source      string `json:"source" validate:"omitempty,oneof=WEBHOOK SCRAPER EMAIL"`
}

// ingestBatchRequest is the bulk webhook body. Source defaults to WEBHOOK;
// the rotation driver sets SCRAPER for its scrape submissions.
type ingestBatchRequest struct {
	Source   string             `json:"source" validate:"omitempty,oneof=WEBHOOK SCRAPER EMAIL"`
	Postings []ingestPostingDTO `json:"postings" validate:"required,min=1,dive"`
}

type ingestPostingDTO struct {
	URL         string     `json:"url" validate:"required,url"`
	Title       string     `json:"title"`
	CompanyName string     `json:"company_name"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	PostedAt    *time.Time `json:"posted_at"`
}

// ingestResponse reports the fate of one submission
type ingestResponse struct {
	Status string `json:"status"` // "queued" or "skipped"
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ingestBatchResponse reports positional outcomes plus totals
type ingestBatchResponse struct {
	Results []ingestResponse `json:"results"`
	Queued  int              `json:"queued"`
	Skipped int              `json:"skipped"`
}

// JobHandler handles POST /ingest/job
func (h *IngestHandler) JobHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req ingestJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	result, err := h.intake.SubmitJob(r.Context(), &interfaces.JobSubmission{
		URL:         req.URL,
		CompanyName: req.CompanyName,
		Website:     req.Website,
		Source:      resolveSource(req.Source),
		SubmittedBy: req.SourceLabel,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("url", req.URL).Msg("Webhook submission failed")
		WriteError(w, http.StatusInternalServerError, "Failed to submit job")
		return
	}

	WriteJSON(w, http.StatusOK, toIngestResponse(result))
}

// BatchHandler handles POST /ingest/batch
func (h *IngestHandler) BatchHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req ingestBatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	source := resolveSource(req.Source)

	postings := make([]*models.JobPosting, len(req.Postings))
	for i, p := range req.Postings {
		postings[i] = &models.JobPosting{
			URL:         p.URL,
			Title:       p.Title,
			CompanyName: p.CompanyName,
			Location:    p.Location,
			Description: p.Description,
			PostedAt:    p.PostedAt,
		}
	}

	results, err := h.intake.SubmitBatch(r.Context(), postings, source)
	if err != nil {
		h.logger.Error().Err(err).Int("postings", len(postings)).Msg("Webhook batch failed")
		WriteError(w, http.StatusInternalServerError, "Failed to submit batch")
		return
	}

	resp := ingestBatchResponse{Results: make([]ingestResponse, len(results))}
	for i := range results {
		resp.Results[i] = toIngestResponse(&results[i])
		if results[i].Accepted {
			resp.Queued++
		} else {
			resp.Skipped++
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// authenticate runs the shared webhook gate: method, rate limit, body cap,
// HMAC signature and replay guard. On failure it writes the response and
// returns ok=false; on success it returns the verified raw body.
func (h *IngestHandler) authenticate(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if !RequireMethod(w, r, "POST") {
		return nil, false
	}

	if h.cfg.WebhookSecret == "" {
		WriteError(w, http.StatusServiceUnavailable, "Ingest webhook is not configured")
		return nil, false
	}

	client := clientKey(r)
	if !h.allow(client) {
		h.logger.Warn().Str("client", client).Msg("Webhook rate limit exceeded")
		WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return nil, false
	}

	maxBytes := h.cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Request body too large or unreadable")
		return nil, false
	}

	signature := r.Header.Get(signatureHeader)
	if !h.verifySignature(body, signature) {
		h.logger.Warn().Str("client", client).Msg("Webhook signature rejected")
		WriteError(w, http.StatusUnauthorized, "Invalid signature")
		return nil, false
	}

	if h.replay.Seen(signature, time.Now()) {
		h.logger.Warn().Str("client", client).Msg("Webhook replay rejected")
		WriteError(w, http.StatusUnauthorized, "Replayed request")
		return nil, false
	}

	return body, true
}

// verifySignature checks the hex HMAC-SHA256 of the body in constant time
func (h *IngestHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.cfg.WebhookSecret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// allow consumes one token from the client's bucket, creating the bucket on
// first sight. Idle buckets are pruned once the map grows past 1000 clients.
func (h *IngestHandler) allow(client string) bool {
	rpm := h.cfg.RatePerMinute
	if rpm <= 0 {
		rpm = 60
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if len(h.limiters) > 1000 {
		for key, cl := range h.limiters {
			if now.Sub(cl.lastSeen) > limiterIdleTimeout {
				delete(h.limiters, key)
			}
		}
	}

	cl, ok := h.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)}
		h.limiters[client] = cl
	}
	cl.lastSeen = now

	return cl.limiter.Allow()
}

// clientKey identifies a webhook caller by remote IP
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// resolveSource maps a declared source onto the item source tag.
// Anything unrecognized is treated as an external webhook sender.
func resolveSource(source string) models.ItemSource {
	switch source {
	case string(models.SourceScraper):
		return models.SourceScraper
	case string(models.SourceEmail):
		return models.SourceEmail
	}
	return models.SourceWebhook
}

func toIngestResponse(result *interfaces.EnqueueResult) ingestResponse {
	if result.Accepted {
		return ingestResponse{Status: "queued", ID: result.ID}
	}
	return ingestResponse{Status: "skipped", ID: result.ID, Reason: result.Reason}
}

// replayGuard remembers recently seen signatures so an intercepted request
// cannot be resubmitted inside the window.
type replayGuard struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newReplayGuard(window time.Duration) *replayGuard {
	return &replayGuard{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Seen records the signature and reports whether it was already present
// inside the window. Expired entries are pruned on each call.
func (g *replayGuard) Seen(signature string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for sig, at := range g.seen {
		if now.Sub(at) >= g.window {
			delete(g.seen, sig)
		}
	}

	if _, ok := g.seen[signature]; ok {
		return true
	}
	g.seen[signature] = now
	return false
}
