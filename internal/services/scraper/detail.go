package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// DetailScraper fetches a single posting page and extracts the fields
// scoring needs. Structured data wins when the page carries a JSON-LD
// JobPosting block; otherwise the page's main content is converted to
// markdown.
type DetailScraper struct {
	fetcher  *fetcher
	renderer interfaces.Renderer
	logger   arbor.ILogger
}

func NewDetailScraper(f *fetcher, renderer interfaces.Renderer, logger arbor.ILogger) *DetailScraper {
	return &DetailScraper{fetcher: f, renderer: renderer, logger: logger}
}

func (d *DetailScraper) FetchDetail(ctx context.Context, url string, renderJS bool) (*models.JobPosting, error) {
	var pageHTML []byte
	if renderJS && d.renderer != nil {
		html, err := d.renderer.RenderHTML(ctx, url)
		if err != nil {
			return nil, err
		}
		pageHTML = []byte(html)
	} else {
		body, err := d.fetcher.get(ctx, url, "text/html")
		if err != nil {
			return nil, err
		}
		pageHTML = body
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pageHTML))
	if err != nil {
		return nil, models.NewKindError(models.ErrKindParseFailed, fmt.Sprintf("parsing %s", url), err)
	}

	posting := &models.JobPosting{URL: url}
	applyStructuredData(doc, posting)

	if posting.Title == "" {
		posting.Title = pageTitle(doc)
	}
	if posting.CompanyName == "" {
		posting.CompanyName = collapseSpaces(doc.Find(`meta[property="og:site_name"]`).AttrOr("content", ""))
	}
	if posting.Description == "" {
		posting.Description = mainContentMarkdown(doc)
	}

	if posting.Title == "" && posting.Description == "" {
		return nil, models.NewKindError(models.ErrKindParseFailed, fmt.Sprintf("no title or description found at %s", url), nil)
	}

	d.logger.Debug().
		Str("url", url).
		Str("title", posting.Title).
		Int("description_len", len(posting.Description)).
		Msg("Detail fetched")

	return posting, nil
}

// jobPostingLD is the subset of the schema.org JobPosting JSON-LD block
// the detail scraper consumes.
type jobPostingLD struct {
	Type               string `json:"@type"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	DatePosted         string `json:"datePosted"`
	HiringOrganization struct {
		Name string `json:"name"`
	} `json:"hiringOrganization"`
	JobLocation struct {
		Address struct {
			Locality string `json:"addressLocality"`
			Region   string `json:"addressRegion"`
			Country  string `json:"addressCountry"`
		} `json:"address"`
	} `json:"jobLocation"`
}

// applyStructuredData fills the posting from the first JSON-LD script
// declaring a JobPosting. Both bare objects and arrays appear in the
// wild, so each script is tried both ways.
func applyStructuredData(doc *goquery.Document, posting *models.JobPosting) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return true
		}

		var candidates []jobPostingLD
		var single jobPostingLD
		if err := json.Unmarshal([]byte(text), &single); err == nil {
			candidates = append(candidates, single)
		} else {
			var many []jobPostingLD
			if err := json.Unmarshal([]byte(text), &many); err == nil {
				candidates = append(candidates, many...)
			}
		}

		for _, ld := range candidates {
			if !strings.EqualFold(ld.Type, "JobPosting") {
				continue
			}
			posting.Title = collapseSpaces(ld.Title)
			posting.CompanyName = collapseSpaces(ld.HiringOrganization.Name)
			posting.Description = htmlToMarkdown(ld.Description)
			posting.Location = ldLocation(ld)
			posting.PostedAt = parsePostedDate(ld.DatePosted)
			return false
		}
		return true
	})
}

func ldLocation(ld jobPostingLD) string {
	parts := []string{}
	for _, p := range []string{ld.JobLocation.Address.Locality, ld.JobLocation.Address.Region, ld.JobLocation.Address.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func parsePostedDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

// pageTitle prefers og:title over the document title, then falls back
// to the first h1.
func pageTitle(doc *goquery.Document) string {
	if title := collapseSpaces(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); title != "" {
		return title
	}
	if title := collapseSpaces(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return collapseSpaces(doc.Find("h1").First().Text())
}

// mainContentMarkdown extracts the page's main content region and
// converts it to markdown. Boilerplate chrome is stripped when no main
// container is declared.
func mainContentMarkdown(doc *goquery.Document) string {
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
	return htmlToMarkdown(html)
}
