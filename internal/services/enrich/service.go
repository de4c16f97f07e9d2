package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// maxContentChars bounds the page text handed to the analyzer. Scoring
// prompts have their own token limits; a company homepage rarely needs
// more than the first few thousand words.
const maxContentChars = 20000

// aboutPathMarkers identify the page most likely to describe the company
var aboutPathMarkers = []string{"/about", "/company", "/who-we-are", "/mission"}

// Service fetches a company's website and distills CompanyFacts from it.
// Heuristics pull the obvious fields from page metadata; when a scorer
// is wired its analysis overrides the heuristics field by field.
type Service struct {
	client    *http.Client
	userAgent string
	scorer    interfaces.Scorer
	logger    arbor.ILogger
}

// NewService creates a company enricher. scorer may be nil, leaving
// only the metadata heuristics.
func NewService(cfg common.ScraperConfig, scorer interfaces.Scorer, logger arbor.ILogger) interfaces.CompanyEnricher {
	return &Service{
		client:    &http.Client{Timeout: common.Duration(cfg.RequestTimeout, 30*time.Second)},
		userAgent: cfg.UserAgent,
		scorer:    scorer,
		logger:    logger,
	}
}

// Enrich fetches the company homepage, follows one about-style link on
// the same host, and distills the collected text into CompanyFacts.
func (s *Service) Enrich(ctx context.Context, name, website string) (*models.CompanyFacts, error) {
	website = strings.TrimSpace(website)
	if website == "" {
		return nil, fmt.Errorf("company %q has no website to enrich from", name)
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}

	doc, err := s.fetchDoc(ctx, website)
	if err != nil {
		return nil, err
	}

	facts := &models.CompanyFacts{Size: models.SizeUnknown}
	facts.About = metaDescription(doc)

	content := pageMarkdown(doc)
	if aboutURL := findAboutLink(doc, website); aboutURL != "" {
		if aboutDoc, err := s.fetchDoc(ctx, aboutURL); err == nil {
			content += "\n\n" + pageMarkdown(aboutDoc)
			if facts.About == "" {
				facts.About = metaDescription(aboutDoc)
			}
		} else {
			s.logger.Debug().Str("url", aboutURL).Err(err).Msg("About page fetch failed, continuing with homepage")
		}
	}
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	if s.scorer != nil && strings.TrimSpace(content) != "" {
		analyzed, err := s.scorer.AnalyzeCompany(ctx, &models.Company{Name: name, Website: website}, content)
		if err != nil {
			s.logger.Warn().Str("company", name).Err(err).Msg("Company analysis failed, keeping heuristic facts")
		} else if analyzed != nil {
			mergeFacts(facts, analyzed)
		}
	}

	s.logger.Info().
		Str("company", name).
		Str("website", website).
		Bool("has_about", facts.About != "").
		Str("size", string(facts.Size)).
		Msg("Company enriched")

	return facts, nil
}

func (s *Service) fetchDoc(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, models.NewKindError(models.ErrKindScraperFailed, fmt.Sprintf("building request for %s", pageURL), err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, models.NewKindError(models.ErrKindNetwork, fmt.Sprintf("fetching %s", pageURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, models.NewKindError(models.ErrKindBlocked, fmt.Sprintf("%s returned %d", pageURL, resp.StatusCode), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, models.NewKindError(models.ErrKindScraperFailed, fmt.Sprintf("%s returned %d", pageURL, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, models.NewKindError(models.ErrKindNetwork, fmt.Sprintf("reading %s", pageURL), err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, models.NewKindError(models.ErrKindParseFailed, fmt.Sprintf("parsing %s", pageURL), err)
	}
	return doc, nil
}

// metaDescription pulls the page's own summary line
func metaDescription(doc *goquery.Document) string {
	if desc := strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", "")); desc != "" {
		return desc
	}
	return strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
}

// pageMarkdown converts the page's main content to markdown with the
// chrome stripped.
func pageMarkdown(doc *goquery.Document) string {
	content := doc.Find("main, article, [role=main]").First()
	if content.Length() == 0 {
		body := doc.Find("body")
		body.Find("nav, header, footer, aside, script, style, noscript").Remove()
		content = body
	}
	if content.Length() == 0 {
		return ""
	}

	html, err := goquery.OuterHtml(content)
	if err != nil {
		return ""
	}
	out, err := md.NewConverter("", true, nil).ConvertString(html)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// findAboutLink returns the first same-host link that looks like an
// about page, or empty.
func findAboutLink(doc *goquery.Document, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}

	found := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		parsed, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		resolved := baseURL.ResolveReference(parsed)
		if resolved.Hostname() != baseURL.Hostname() {
			return true
		}
		path := strings.ToLower(resolved.Path)
		for _, marker := range aboutPathMarkers {
			if strings.HasPrefix(path, marker) {
				resolved.Fragment = ""
				found = resolved.String()
				return false
			}
		}
		return true
	})
	return found
}

// mergeFacts overlays analyzed fields onto the heuristic baseline.
// Non-empty analyzed values win.
func mergeFacts(base, analyzed *models.CompanyFacts) {
	if analyzed.About != "" {
		base.About = analyzed.About
	}
	if analyzed.Mission != "" {
		base.Mission = analyzed.Mission
	}
	if analyzed.Culture != "" {
		base.Culture = analyzed.Culture
	}
	if analyzed.Size != "" && analyzed.Size != models.SizeUnknown {
		base.Size = analyzed.Size
	}
	if analyzed.Headquarters != "" {
		base.Headquarters = analyzed.Headquarters
	}
}
