package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// CareersAdapter lists jobs by extracting posting links from a company
// careers page. Pages that build their listing client-side go through
// the headless renderer when the source sets render_js. Postings from
// this adapter are sparse; the detail fetcher fills them in later.
type CareersAdapter struct {
	fetcher  *fetcher
	renderer interfaces.Renderer
	logger   arbor.ILogger
}

func NewCareersAdapter(f *fetcher, renderer interfaces.Renderer, logger arbor.ILogger) *CareersAdapter {
	return &CareersAdapter{fetcher: f, renderer: renderer, logger: logger}
}

func (a *CareersAdapter) Kind() models.SourceKind {
	return models.KindCareersPage
}

func (a *CareersAdapter) Scrape(ctx context.Context, source *models.Source) (*interfaces.ScrapeResult, error) {
	pageHTML, rendered, err := a.loadPage(ctx, source)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pageHTML))
	if err != nil {
		return nil, models.NewKindError(models.ErrKindParseFailed, fmt.Sprintf("parsing %s", source.BaseURL), err)
	}

	base, err := url.Parse(source.BaseURL)
	if err != nil {
		return nil, models.NewKindError(models.ErrKindScraperFailed, fmt.Sprintf("source %s has unparseable base_url", source.SourceID), err)
	}

	pageCanonical := common.CanonicalURL(source.BaseURL)
	seen := make(map[string]bool)
	var postings []*models.JobPosting

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}

		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(parsed)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		canonical := common.CanonicalURL(resolved.String())
		if canonical == pageCanonical || seen[canonical] || isFileDownload(canonical) {
			return
		}
		if !looksLikeJobLink(resolved) {
			return
		}

		seen[canonical] = true
		postings = append(postings, &models.JobPosting{
			URL:         canonical,
			Title:       collapseSpaces(sel.Text()),
			CompanyName: source.CompanyName,
		})
	})

	a.logger.Debug().
		Str("source_id", source.SourceID).
		Int("postings", len(postings)).
		Bool("rendered_js", rendered).
		Msg("Careers page listed")

	return &interfaces.ScrapeResult{Postings: postings, RenderedJS: rendered}, nil
}

// loadPage fetches the careers page, through the headless renderer when
// the source requests it and a renderer is wired.
func (a *CareersAdapter) loadPage(ctx context.Context, source *models.Source) ([]byte, bool, error) {
	if source.RenderJS && a.renderer != nil {
		html, err := a.renderer.RenderHTML(ctx, source.BaseURL)
		if err != nil {
			return nil, false, err
		}
		return []byte(html), true, nil
	}

	body, err := a.fetcher.get(ctx, source.BaseURL, "text/html")
	if err != nil {
		return nil, false, err
	}
	return body, false, nil
}

// jobPathMarkers are the path fragments that identify a posting link on
// a careers page.
var jobPathMarkers = []string{
	"/job/", "/jobs/", "/position/", "/positions/",
	"/opening/", "/openings/", "/vacancy/", "/vacancies/",
	"/careers/", "/career/", "/role/", "/roles/",
}

// jobBoardHosts are ATS hosts whose links are postings regardless of path
var jobBoardHosts = []string{
	"boards.greenhouse.io",
	"jobs.lever.co",
	"apply.workable.com",
	"jobs.ashbyhq.com",
	"jobs.smartrecruiters.com",
}

func looksLikeJobLink(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, boardHost := range jobBoardHosts {
		if host == boardHost {
			return true
		}
	}

	path := strings.ToLower(u.Path)
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	for _, marker := range jobPathMarkers {
		if idx := strings.Index(path, marker); idx >= 0 {
			// The marker must be followed by a job segment, not end the path:
			// /careers/ alone is a listing, /careers/4185-engineer is a posting.
			if idx+len(marker) < len(path) {
				return true
			}
		}
	}
	return false
}

// downloadExtensions mark links that are files, not postings
var downloadExtensions = []string{
	".pdf", ".zip", ".doc", ".docx", ".xls", ".xlsx",
	".ppt", ".pptx", ".png", ".jpg", ".jpeg", ".svg",
}

func isFileDownload(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, ext := range downloadExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
