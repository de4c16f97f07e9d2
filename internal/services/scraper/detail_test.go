package scraper

import (
	"context"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/models"
)

const detailWithJSONLD = `<!DOCTYPE html>
<html>
<head>
  <title>Careers | Acme</title>
  <script type="application/ld+json">
  {
    "@context": "https://schema.org/",
    "@type": "JobPosting",
    "title": "Senior Go Engineer",
    "description": "<p>You will own the <strong>queue</strong>.</p>",
    "datePosted": "2026-08-10",
    "hiringOrganization": {"@type": "Organization", "name": "Acme Robotics"},
    "jobLocation": {"address": {"addressLocality": "Berlin", "addressCountry": "DE"}}
  }
  </script>
</head>
<body><main><h1>ignored when structured data exists</h1></main></body>
</html>`

const detailWithoutJSONLD = `<!DOCTYPE html>
<html>
<head>
  <title>SRE - Acme</title>
  <meta property="og:site_name" content="Acme">
</head>
<body>
  <nav>Home | Careers</nav>
  <article>
    <h1>Site Reliability Engineer</h1>
    <p>You run things.</p>
    <p>On call, observability, incident response.</p>
  </article>
  <footer>legal boilerplate</footer>
</body>
</html>`

func TestFetchDetailPrefersStructuredData(t *testing.T) {
	server := serveBody(t, "text/html", detailWithJSONLD)

	d := NewDetailScraper(newTestFetcher(t), nil, arbor.NewLogger())
	posting, err := d.FetchDetail(context.Background(), server.URL+"/jobs/4185", false)
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}

	if posting.Title != "Senior Go Engineer" {
		t.Errorf("title = %q", posting.Title)
	}
	if posting.CompanyName != "Acme Robotics" {
		t.Errorf("company = %q", posting.CompanyName)
	}
	if posting.Location != "Berlin, DE" {
		t.Errorf("location = %q", posting.Location)
	}
	if !strings.Contains(posting.Description, "**queue**") {
		t.Errorf("description = %q", posting.Description)
	}
	if posting.PostedAt == nil || posting.PostedAt.Day() != 10 {
		t.Errorf("posted_at = %v", posting.PostedAt)
	}
	if posting.IsSparse() {
		t.Error("posting should not be sparse after a detail fetch")
	}
}

func TestFetchDetailFallsBackToPageContent(t *testing.T) {
	server := serveBody(t, "text/html", detailWithoutJSONLD)

	d := NewDetailScraper(newTestFetcher(t), nil, arbor.NewLogger())
	posting, err := d.FetchDetail(context.Background(), server.URL+"/jobs/sre", false)
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}

	// 1. No og:title, so the document title wins
	if posting.Title != "SRE - Acme" {
		t.Errorf("title = %q", posting.Title)
	}
	if posting.CompanyName != "Acme" {
		t.Errorf("company = %q", posting.CompanyName)
	}

	// 2. The article content survives, the chrome does not
	if !strings.Contains(posting.Description, "incident response") {
		t.Errorf("description missing article text: %q", posting.Description)
	}
	if strings.Contains(posting.Description, "legal boilerplate") {
		t.Errorf("description kept footer text: %q", posting.Description)
	}
}

func TestFetchDetailEmptyPage(t *testing.T) {
	server := serveBody(t, "text/html", "<html><head></head><body></body></html>")

	d := NewDetailScraper(newTestFetcher(t), nil, arbor.NewLogger())
	_, err := d.FetchDetail(context.Background(), server.URL+"/jobs/void", false)
	if err == nil {
		t.Fatal("expected error for contentless page")
	}
	if kind := models.KindOf(err); kind != models.ErrKindParseFailed {
		t.Errorf("error kind = %s, want PARSE_FAILED", kind)
	}
}

func TestFetchDetailBlockedPropagates(t *testing.T) {
	renderer := &stubRenderer{err: models.NewKindError(models.ErrKindBlocked, "returned 403", nil)}

	d := NewDetailScraper(newTestFetcher(t), renderer, arbor.NewLogger())
	_, err := d.FetchDetail(context.Background(), "https://example.com/jobs/1", true)
	if err == nil {
		t.Fatal("expected renderer error to propagate")
	}
	if kind := models.KindOf(err); kind != models.ErrKindBlocked {
		t.Errorf("error kind = %s, want BLOCKED", kind)
	}
	if renderer.called != 1 {
		t.Errorf("renderer called %d times, want 1", renderer.called)
	}
}
