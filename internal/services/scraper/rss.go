package scraper

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// RSSAdapter lists jobs from RSS 2.0 and Atom feeds. Feed items usually
// carry a title and a short description, so postings may still need a
// detail fetch before scoring.
type RSSAdapter struct {
	fetcher *fetcher
	logger  arbor.ILogger
}

func NewRSSAdapter(f *fetcher, logger arbor.ILogger) *RSSAdapter {
	return &RSSAdapter{fetcher: f, logger: logger}
}

func (a *RSSAdapter) Kind() models.SourceKind {
	return models.KindRSS
}

type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string     `xml:"title"`
	Links   []atomLink `xml:"link"`
	Summary string     `xml:"summary"`
	Content string     `xml:"content"`
	Updated string     `xml:"updated"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func (e atomEntry) linkHref() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

func (a *RSSAdapter) Scrape(ctx context.Context, source *models.Source) (*interfaces.ScrapeResult, error) {
	body, err := a.fetcher.get(ctx, source.BaseURL, "application/rss+xml, application/atom+xml, application/xml, text/xml")
	if err != nil {
		return nil, err
	}

	postings, err := parseFeed(body, source.CompanyName)
	if err != nil {
		return nil, models.NewKindError(models.ErrKindParseFailed, fmt.Sprintf("decoding feed from %s", source.BaseURL), err)
	}

	a.logger.Debug().
		Str("source_id", source.SourceID).
		Int("postings", len(postings)).
		Msg("Feed listed")

	return &interfaces.ScrapeResult{Postings: postings}, nil
}

// parseFeed decodes RSS 2.0 first and falls back to Atom. Items without
// a link are dropped.
func parseFeed(body []byte, companyName string) ([]*models.JobPosting, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		postings := make([]*models.JobPosting, 0, len(rss.Channel.Items))
		for _, item := range rss.Channel.Items {
			link := strings.TrimSpace(item.Link)
			if link == "" {
				continue
			}
			postings = append(postings, &models.JobPosting{
				URL:         link,
				Title:       collapseSpaces(item.Title),
				CompanyName: companyName,
				Description: htmlToMarkdown(item.Description),
				PostedAt:    parseFeedTime(item.PubDate),
			})
		}
		return postings, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err != nil {
		return nil, err
	}
	if len(atom.Entries) == 0 {
		return nil, fmt.Errorf("no rss items or atom entries found")
	}
	postings := make([]*models.JobPosting, 0, len(atom.Entries))
	for _, entry := range atom.Entries {
		link := strings.TrimSpace(entry.linkHref())
		if link == "" {
			continue
		}
		description := entry.Content
		if description == "" {
			description = entry.Summary
		}
		postings = append(postings, &models.JobPosting{
			URL:         link,
			Title:       collapseSpaces(entry.Title),
			CompanyName: companyName,
			Description: htmlToMarkdown(description),
			PostedAt:    parseFeedTime(entry.Updated),
		})
	}
	return postings, nil
}

// feedTimeFormats covers the date shapes seen in job feeds in the wild.
var feedTimeFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02",
}

func parseFeedTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range feedTimeFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
