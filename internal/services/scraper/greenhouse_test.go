package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/models"
)

func testScraperConfig() common.ScraperConfig {
	return common.ScraperConfig{
		UserAgent:      "peto-test/1.0",
		RequestTimeout: "5s",
		MaxBodySize:    1024 * 1024,
		PerHostRPS:     1000,
		PerHostBurst:   1000,
	}
}

func newTestFetcher(t *testing.T) *fetcher {
	t.Helper()
	return newFetcher(testScraperConfig(), arbor.NewLogger())
}

const boardFixture = `{
	"jobs": [
		{
			"id": 4185,
			"title": "Senior Go Engineer",
			"absolute_url": "https://boards.greenhouse.io/acme/jobs/4185",
			"first_published": "2026-08-10T09:18:11-04:00",
			"updated_at": "2026-08-12T10:00:00-04:00",
			"location": {"name": "Remote - US"},
			"content": "<p>Build <strong>distributed</strong> systems.</p>"
		},
		{
			"id": 4186,
			"title": "No URL",
			"absolute_url": ""
		}
	],
	"meta": {"total": 2}
}`

func TestGreenhouseScrape(t *testing.T) {
	// 1. Serve a board fixture and verify the request shape
	var gotPath, gotQuery, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(boardFixture))
	}))
	defer server.Close()

	adapter := NewGreenhouseAdapter(newTestFetcher(t), arbor.NewLogger())
	source := &models.Source{
		SourceID:    "acme-board",
		CompanyName: "Acme",
		Kind:        models.KindGreenhouseBoard,
		BaseURL:     server.URL + "/v1/boards/acme/jobs",
	}

	result, err := adapter.Scrape(context.Background(), source)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}

	if gotPath != "/v1/boards/acme/jobs" {
		t.Errorf("request path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "content=true") {
		t.Errorf("query %q missing content=true", gotQuery)
	}
	if gotAgent != "peto-test/1.0" {
		t.Errorf("user agent = %q", gotAgent)
	}

	// 2. The job without a URL is dropped
	if len(result.Postings) != 1 {
		t.Fatalf("got %d postings, want 1", len(result.Postings))
	}

	// 3. Fields map through, content is unescaped and converted
	p := result.Postings[0]
	if p.URL != "https://boards.greenhouse.io/acme/jobs/4185" {
		t.Errorf("url = %q", p.URL)
	}
	if p.Title != "Senior Go Engineer" {
		t.Errorf("title = %q", p.Title)
	}
	if p.Location != "Remote - US" {
		t.Errorf("location = %q", p.Location)
	}
	if p.CompanyName != "Acme" {
		t.Errorf("company = %q", p.CompanyName)
	}
	if !strings.Contains(p.Description, "**distributed**") {
		t.Errorf("description not converted to markdown: %q", p.Description)
	}
	if p.PostedAt == nil || p.PostedAt.Day() != 10 {
		t.Errorf("posted_at = %v, want first_published", p.PostedAt)
	}
}

func TestGreenhouseBlockedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := NewGreenhouseAdapter(newTestFetcher(t), arbor.NewLogger())
	source := &models.Source{SourceID: "s", Kind: models.KindGreenhouseBoard, BaseURL: server.URL + "/v1/boards/acme/jobs"}

	_, err := adapter.Scrape(context.Background(), source)
	if err == nil {
		t.Fatal("expected error for 429")
	}
	if kind := models.KindOf(err); kind != models.ErrKindBlocked {
		t.Errorf("error kind = %s, want BLOCKED", kind)
	}
}

func TestGreenhouseBadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	adapter := NewGreenhouseAdapter(newTestFetcher(t), arbor.NewLogger())
	source := &models.Source{SourceID: "s", Kind: models.KindGreenhouseBoard, BaseURL: server.URL + "/v1/boards/acme/jobs"}

	_, err := adapter.Scrape(context.Background(), source)
	if err == nil {
		t.Fatal("expected error for non-JSON body")
	}
	if kind := models.KindOf(err); kind != models.ErrKindParseFailed {
		t.Errorf("error kind = %s, want PARSE_FAILED", kind)
	}
}

func TestGreenhouseNetworkError(t *testing.T) {
	// Closed server: connection refused
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	adapter := NewGreenhouseAdapter(newTestFetcher(t), arbor.NewLogger())
	source := &models.Source{SourceID: "s", Kind: models.KindGreenhouseBoard, BaseURL: url + "/v1/boards/acme/jobs"}

	_, err := adapter.Scrape(context.Background(), source)
	if err == nil {
		t.Fatal("expected error for refused connection")
	}
	if kind := models.KindOf(err); kind != models.ErrKindNetwork {
		t.Errorf("error kind = %s, want NETWORK", kind)
	}
}

func TestBoardAPIDerivation(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "https://boards.greenhouse.io/acme", want: "https://boards-api.greenhouse.io/v1/boards/acme/jobs?content=true"},
		{base: "https://boards.greenhouse.io/acme/", want: "https://boards-api.greenhouse.io/v1/boards/acme/jobs?content=true"},
		{base: "https://boards-api.greenhouse.io/v1/boards/acme/jobs", want: "https://boards-api.greenhouse.io/v1/boards/acme/jobs?content=true"},
		{base: "https://example.com/careers", wantErr: true},
		{base: "not a url", wantErr: true},
	}

	for _, tt := range tests {
		got, err := boardAPI(tt.base)
		if tt.wantErr {
			if err == nil {
				t.Errorf("boardAPI(%q): expected error", tt.base)
			}
			continue
		}
		if err != nil {
			t.Errorf("boardAPI(%q): %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("boardAPI(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
