package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/models"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Acme Jobs</title>
    <item>
      <title>Platform   Engineer</title>
      <link>https://example.com/jobs/platform-engineer</link>
      <description>&lt;p&gt;Run the &lt;strong&gt;platform&lt;/strong&gt;.&lt;/p&gt;</description>
      <pubDate>Mon, 10 Aug 2026 09:00:00 +0000</pubDate>
    </item>
    <item>
      <title>No Link</title>
      <link></link>
    </item>
  </channel>
</rss>`

const atomFixture = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Acme Jobs</title>
  <entry>
    <title>Data Engineer</title>
    <link rel="alternate" href="https://example.com/jobs/data-engineer"/>
    <summary>Pipelines and ponies.</summary>
    <updated>2026-08-11T10:00:00Z</updated>
  </entry>
</feed>`

func serveBody(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRSSScrape(t *testing.T) {
	server := serveBody(t, "application/rss+xml", rssFixture)

	adapter := NewRSSAdapter(newTestFetcher(t), arbor.NewLogger())
	source := &models.Source{SourceID: "acme-rss", CompanyName: "Acme", Kind: models.KindRSS, BaseURL: server.URL + "/jobs.rss"}

	result, err := adapter.Scrape(context.Background(), source)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}

	// 1. The linkless item is dropped
	if len(result.Postings) != 1 {
		t.Fatalf("got %d postings, want 1", len(result.Postings))
	}

	// 2. Title whitespace collapses, description converts, pubDate parses
	p := result.Postings[0]
	if p.Title != "Platform Engineer" {
		t.Errorf("title = %q", p.Title)
	}
	if p.URL != "https://example.com/jobs/platform-engineer" {
		t.Errorf("url = %q", p.URL)
	}
	if p.Description != "Run the **platform**." {
		t.Errorf("description = %q", p.Description)
	}
	if p.PostedAt == nil || p.PostedAt.Day() != 10 {
		t.Errorf("posted_at = %v", p.PostedAt)
	}
	if p.CompanyName != "Acme" {
		t.Errorf("company = %q", p.CompanyName)
	}
}

func TestAtomScrape(t *testing.T) {
	server := serveBody(t, "application/atom+xml", atomFixture)

	adapter := NewRSSAdapter(newTestFetcher(t), arbor.NewLogger())
	source := &models.Source{SourceID: "acme-atom", Kind: models.KindRSS, BaseURL: server.URL + "/feed.atom"}

	result, err := adapter.Scrape(context.Background(), source)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(result.Postings) != 1 {
		t.Fatalf("got %d postings, want 1", len(result.Postings))
	}

	p := result.Postings[0]
	if p.URL != "https://example.com/jobs/data-engineer" {
		t.Errorf("url = %q", p.URL)
	}
	if p.Title != "Data Engineer" {
		t.Errorf("title = %q", p.Title)
	}
	if p.Description != "Pipelines and ponies." {
		t.Errorf("description = %q", p.Description)
	}
	if p.PostedAt == nil || p.PostedAt.Day() != 11 {
		t.Errorf("posted_at = %v", p.PostedAt)
	}
}

func TestRSSParseFailure(t *testing.T) {
	server := serveBody(t, "text/html", "<html><body>maintenance page</body></html>")

	adapter := NewRSSAdapter(newTestFetcher(t), arbor.NewLogger())
	source := &models.Source{SourceID: "s", Kind: models.KindRSS, BaseURL: server.URL}

	_, err := adapter.Scrape(context.Background(), source)
	if err == nil {
		t.Fatal("expected error for non-feed body")
	}
	if kind := models.KindOf(err); kind != models.ErrKindParseFailed {
		t.Errorf("error kind = %s, want PARSE_FAILED", kind)
	}
}

func TestParseFeedTimeFormats(t *testing.T) {
	for _, value := range []string{
		"Mon, 10 Aug 2026 09:00:00 +0000",
		"Mon, 10 Aug 2026 09:00:00 UTC",
		"2026-08-10T09:00:00Z",
		"2026-08-10",
	} {
		got := parseFeedTime(value)
		if got == nil {
			t.Errorf("parseFeedTime(%q) = nil", value)
			continue
		}
		if got.Day() != 10 {
			t.Errorf("parseFeedTime(%q).Day() = %d", value, got.Day())
		}
	}
	if got := parseFeedTime("next tuesday"); got != nil {
		t.Errorf("parseFeedTime garbage = %v, want nil", got)
	}
}
