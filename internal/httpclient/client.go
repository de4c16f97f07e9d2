package httpclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body
const signatureHeader = "X-Ingest-Signature"

// defaultTimeout bounds any single worker API call
const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read for the message
const maxErrorBody = 4 * 1024

// Client is the rotation driver's typed view of the worker daemon's
// HTTP API. Rotation picks and attempt reports use the plain API
// routes; posting submissions go through the authenticated ingest
// surface, signed the same way external webhook senders sign theirs.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	logger  arbor.ILogger
}

// New creates a worker API client. baseURL is the daemon root, e.g.
// "http://localhost:8085"; webhookSecret signs ingest submissions.
func New(baseURL, webhookSecret string, timeout time.Duration, logger arbor.ILogger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  webhookSecret,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Compile-time assertion: the client is a rotation backend over the wire
var _ interfaces.RotationBackend = (*Client)(nil)

// Health verifies the worker daemon is reachable
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return fmt.Errorf("worker daemon health check failed: %w", err)
	}
	return nil
}

// PickRotation fetches the next rotation batch plus the queue depth the
// driver's backpressure check needs. Non-positive k defers to the
// server's default batch size.
func (c *Client) PickRotation(ctx context.Context, k int) (*models.RotationPick, error) {
	path := "/api/rotation/pick"
	if k > 0 {
		path = fmt.Sprintf("/api/rotation/pick?k=%d", k)
	}
	var pick models.RotationPick
	if err := c.get(ctx, path, &pick); err != nil {
		return nil, err
	}
	return &pick, nil
}

// RecordResult reports one finished scrape attempt to the registry
func (c *Client) RecordResult(ctx context.Context, sourceID string, result *models.SourceAttemptResult) error {
	path := fmt.Sprintf("/api/sources/%s/attempt", url.PathEscape(sourceID))
	return c.post(ctx, path, result, nil, false)
}

// ingestResult mirrors the ingest surface's per-submission response
type ingestResult struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (r ingestResult) toEnqueueResult(jobURL string) interfaces.EnqueueResult {
	return interfaces.EnqueueResult{
		ID:        r.ID,
		URL:       jobURL,
		Accepted:  r.Status == "queued",
		Duplicate: r.Reason == "duplicate",
		Reason:    r.Reason,
	}
}

// SubmitPostings funnels one rotation's scraper output through the
// ingest batch endpoint. Results are positional.
func (c *Client) SubmitPostings(ctx context.Context, postings []*models.JobPosting) ([]interfaces.EnqueueResult, error) {
	type postingDTO struct {
		URL         string     `json:"url"`
		Title       string     `json:"title,omitempty"`
		CompanyName string     `json:"company_name,omitempty"`
		Location    string     `json:"location,omitempty"`
		Description string     `json:"description,omitempty"`
		PostedAt    *time.Time `json:"posted_at,omitempty"`
	}
	req := struct {
		Source   string       `json:"source"`
		Postings []postingDTO `json:"postings"`
	}{
		Source:   string(models.SourceScraper),
		Postings: make([]postingDTO, len(postings)),
	}
	for i, p := range postings {
		req.Postings[i] = postingDTO{
			URL:         p.URL,
			Title:       p.Title,
			CompanyName: p.CompanyName,
			Location:    p.Location,
			Description: p.Description,
			PostedAt:    p.PostedAt,
		}
	}

	var resp struct {
		Results []ingestResult `json:"results"`
		Queued  int            `json:"queued"`
		Skipped int            `json:"skipped"`
	}
	if err := c.post(ctx, "/ingest/batch", &req, &resp, true); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(postings) {
		return nil, fmt.Errorf("ingest batch returned %d results for %d postings", len(resp.Results), len(postings))
	}

	results := make([]interfaces.EnqueueResult, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = r.toEnqueueResult(postings[i].URL)
	}
	return results, nil
}

// SubmitJob funnels one candidate URL through the single-posting ingest
// endpoint. The inbox watcher uses this with the EMAIL source tag.
func (c *Client) SubmitJob(ctx context.Context, sub *interfaces.JobSubmission) (*interfaces.EnqueueResult, error) {
	req := struct {
		URL         string `json:"url"`
		CompanyName string `json:"company_name,omitempty"`
		Website     string `json:"website,omitempty"`
		SourceLabel string `json:"source_label,omitempty"`
		Source      string `json:"source,omitempty"`
	}{
		URL:         sub.URL,
		CompanyName: sub.CompanyName,
		Website:     sub.Website,
		SourceLabel: sub.SubmittedBy,
		Source:      string(sub.Source),
	}

	var resp ingestResult
	if err := c.post(ctx, "/ingest/job", &req, &resp, true); err != nil {
		return nil, err
	}
	result := resp.toEnqueueResult(sub.URL)
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	return c.do(req, out)
}

// post sends a JSON body. Signed requests carry the ingest HMAC header.
func (c *Client) post(ctx context.Context, path string, in, out interface{}, signed bool) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		req.Header.Set(signatureHeader, c.sign(body))
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return models.NewKindError(models.ErrKindNetwork, fmt.Sprintf("calling %s", req.URL.Path), err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Worker API call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(req.URL.Path, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// statusError maps a non-2xx response onto the error taxonomy, keeping
// the server's own message when it sent one.
func (c *Client) statusError(path string, resp *http.Response) error {
	message := ""
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		message = ": " + body.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s returned 404%s: %w", path, message, models.ErrNotFound)
	case http.StatusTooManyRequests:
		return models.NewKindError(models.ErrKindRateLimited, fmt.Sprintf("%s returned 429%s", path, message), nil)
	default:
		return fmt.Errorf("%s returned %d%s", path, resp.StatusCode, message)
	}
}

// sign computes the hex HMAC-SHA256 the ingest surface verifies
func (c *Client) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
