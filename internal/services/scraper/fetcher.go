package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/models"
)

// fetcher is the shared HTTP layer under every adapter: one client, one
// per-host limiter, one body cap, one status-to-kind mapping.
type fetcher struct {
	client      *http.Client
	limiter     *HostLimiter
	userAgent   string
	maxBodySize int64
	logger      arbor.ILogger
}

func newFetcher(cfg common.ScraperConfig, logger arbor.ILogger) *fetcher {
	timeout := common.Duration(cfg.RequestTimeout, 30*time.Second)
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}
	return &fetcher{
		client:      &http.Client{Timeout: timeout},
		limiter:     NewHostLimiter(cfg.PerHostRPS, cfg.PerHostBurst),
		userAgent:   cfg.UserAgent,
		maxBodySize: maxBody,
		logger:      logger,
	}
}

// get fetches url and returns the body, capped at maxBodySize. Failures
// come back classified: reachability problems as NETWORK, 403 and 429 as
// BLOCKED, any other non-2xx as SCRAPER_FAILED.
func (f *fetcher) get(ctx context.Context, url string, accept string) ([]byte, error) {
	if err := f.limiter.Wait(ctx, common.HostOf(url)); err != nil {
		return nil, models.NewKindError(models.ErrKindNetwork, "rate limit wait interrupted", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.NewKindError(models.ErrKindScraperFailed, fmt.Sprintf("building request for %s", url), err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, models.NewKindError(models.ErrKindNetwork, fmt.Sprintf("fetching %s", url), err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(url, resp.StatusCode); err != nil {
		// Drain a little so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, models.NewKindError(models.ErrKindNetwork, fmt.Sprintf("reading body of %s", url), err)
	}

	f.logger.Trace().
		Str("url", url).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Fetched")

	return body, nil
}

// classifyStatus maps an HTTP status onto the failure taxonomy. 403 and
// 429 mean the host is pushing back and the source should cool off.
func classifyStatus(url string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return models.NewKindError(models.ErrKindBlocked, fmt.Sprintf("%s returned %d", url, status), nil)
	default:
		return models.NewKindError(models.ErrKindScraperFailed, fmt.Sprintf("%s returned %d", url, status), nil)
	}
}
