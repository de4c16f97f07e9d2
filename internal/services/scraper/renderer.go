package scraper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/models"
)

// ChromeRenderer loads pages in a single headless Chrome instance for
// sources whose listings are built client-side. The browser starts
// lazily on first use and renders are serialized; rotation scrapes few
// render_js sources per pass, so one instance is enough.
type ChromeRenderer struct {
	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	userAgent     string
	jsWait        time.Duration
	timeout       time.Duration
	logger        arbor.ILogger
	initialized   bool
	closed        bool
}

func NewChromeRenderer(cfg common.ScraperConfig, logger arbor.ILogger) *ChromeRenderer {
	return &ChromeRenderer{
		userAgent: cfg.UserAgent,
		jsWait:    common.Duration(cfg.JSWaitTime, 3*time.Second),
		timeout:   common.Duration(cfg.RenderTimeout, 45*time.Second),
		logger:    logger,
	}
}

// RenderHTML navigates to url, waits for JavaScript to settle and
// returns the rendered document. 403 and 429 document responses map to
// BLOCKED like plain HTTP fetches do.
func (r *ChromeRenderer) RenderHTML(ctx context.Context, url string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.initLocked(); err != nil {
		return "", models.NewKindError(models.ErrKindScraperFailed, "starting headless browser", err)
	}

	taskCtx, cancel := context.WithTimeout(r.browserCtx, r.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	// chromedp does not surface the HTTP status; listen for the document
	// response to classify blocks.
	var status atomic.Int64
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument && status.Load() == 0 {
				status.Store(resp.Response.Status)
			}
		}
	})

	start := time.Now()
	var html string
	err := chromedp.Run(taskCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.Sleep(r.jsWait),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", models.NewKindError(models.ErrKindNetwork, fmt.Sprintf("rendering %s", url), err)
	}

	if code := int(status.Load()); code > 0 {
		if err := classifyStatus(url, code); err != nil {
			return "", err
		}
	}

	r.logger.Debug().
		Str("url", url).
		Int("status", int(status.Load())).
		Int("bytes", len(html)).
		Dur("duration", time.Since(start)).
		Msg("Page rendered")

	return html, nil
}

// initLocked starts the browser on first use. Callers hold r.mu.
func (r *ChromeRenderer) initLocked() error {
	if r.closed {
		return fmt.Errorf("renderer is closed")
	}
	if r.initialized {
		return nil
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(r.userAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Startup probe so a missing Chrome binary fails here, not mid-scrape.
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	r.initialized = true

	r.logger.Info().
		Str("user_agent", r.userAgent).
		Dur("js_wait", r.jsWait).
		Dur("render_timeout", r.timeout).
		Msg("Headless renderer started")

	return nil
}

// Close shuts the browser down. Safe to call when the browser never
// started and safe to call twice.
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if !r.initialized {
		return nil
	}

	r.browserCancel()
	r.allocCancel()
	r.initialized = false
	r.logger.Info().Msg("Headless renderer stopped")
	return nil
}
