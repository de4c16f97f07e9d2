package scraper

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/models"
)

func TestServiceDispatchesByKind(t *testing.T) {
	server := serveBody(t, "application/rss+xml", rssFixture)

	svc := NewService(testScraperConfig(), nil, arbor.NewLogger())
	source := &models.Source{SourceID: "acme-rss", CompanyName: "Acme", Kind: models.KindRSS, BaseURL: server.URL}

	result, err := svc.Scrape(context.Background(), source)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(result.Postings) != 1 {
		t.Fatalf("got %d postings, want 1", len(result.Postings))
	}
	if result.Postings[0].CompanyName != "Acme" {
		t.Errorf("company not stamped: %q", result.Postings[0].CompanyName)
	}
}

func TestServiceRejectsUnknownKind(t *testing.T) {
	svc := NewService(testScraperConfig(), nil, arbor.NewLogger())
	source := &models.Source{SourceID: "s", Kind: "ftp-dropbox", BaseURL: "ftp://example.com"}

	_, err := svc.Scrape(context.Background(), source)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if kind := models.KindOf(err); kind != models.ErrKindScraperFailed {
		t.Errorf("error kind = %s, want SCRAPER_FAILED", kind)
	}
}

func TestServiceFetchDetail(t *testing.T) {
	server := serveBody(t, "text/html", detailWithJSONLD)

	svc := NewService(testScraperConfig(), nil, arbor.NewLogger())
	posting, err := svc.FetchDetail(context.Background(), server.URL+"/jobs/4185", false)
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}
	if posting.Title != "Senior Go Engineer" {
		t.Errorf("title = %q", posting.Title)
	}
}
