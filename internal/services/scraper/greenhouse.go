package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// GreenhouseAdapter lists jobs through the public Greenhouse board API.
// The API returns full postings in one round trip, so items from this
// adapter are never sparse.
type GreenhouseAdapter struct {
	fetcher *fetcher
	logger  arbor.ILogger
}

func NewGreenhouseAdapter(f *fetcher, logger arbor.ILogger) *GreenhouseAdapter {
	return &GreenhouseAdapter{fetcher: f, logger: logger}
}

func (a *GreenhouseAdapter) Kind() models.SourceKind {
	return models.KindGreenhouseBoard
}

// boardResponse mirrors the board API's jobs listing payload. With
// content=true each job carries its HTML-escaped description.
type boardResponse struct {
	Jobs []boardJob `json:"jobs"`
	Meta struct {
		Total int `json:"total"`
	} `json:"meta"`
}

type boardJob struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	AbsoluteURL    string `json:"absolute_url"`
	UpdatedAt      string `json:"updated_at"`
	FirstPublished string `json:"first_published"`
	Location       struct {
		Name string `json:"name"`
	} `json:"location"`
	Content string `json:"content"`
}

func (a *GreenhouseAdapter) Scrape(ctx context.Context, source *models.Source) (*interfaces.ScrapeResult, error) {
	endpoint, err := boardAPI(source.BaseURL)
	if err != nil {
		return nil, models.NewKindError(models.ErrKindScraperFailed, fmt.Sprintf("source %s", source.SourceID), err)
	}

	body, err := a.fetcher.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var board boardResponse
	if err := json.Unmarshal(body, &board); err != nil {
		return nil, models.NewKindError(models.ErrKindParseFailed, fmt.Sprintf("decoding board response from %s", endpoint), err)
	}

	postings := make([]*models.JobPosting, 0, len(board.Jobs))
	for _, job := range board.Jobs {
		if job.AbsoluteURL == "" {
			continue
		}
		postings = append(postings, &models.JobPosting{
			URL:         job.AbsoluteURL,
			Title:       strings.TrimSpace(job.Title),
			CompanyName: source.CompanyName,
			Location:    job.Location.Name,
			Description: htmlToMarkdown(html.UnescapeString(job.Content)),
			PostedAt:    parseBoardTime(job.FirstPublished, job.UpdatedAt),
		})
	}

	a.logger.Debug().
		Str("source_id", source.SourceID).
		Int("total", board.Meta.Total).
		Int("postings", len(postings)).
		Msg("Greenhouse board listed")

	return &interfaces.ScrapeResult{Postings: postings}, nil
}

// boardAPI derives the board API endpoint from the configured base URL.
// Accepts the API URL itself (any path containing /v1/boards/) or a
// greenhouse.io board page whose first path segment is the board token.
func boardAPI(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("base_url must be absolute, got %q", baseURL)
	}

	if strings.Contains(u.Path, "/v1/boards/") {
		q := u.Query()
		q.Set("content", "true")
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	if !strings.HasSuffix(strings.ToLower(u.Hostname()), "greenhouse.io") {
		return "", fmt.Errorf("cannot derive a board token from %q", baseURL)
	}
	token := ""
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			token = seg
			break
		}
	}
	if token == "" {
		return "", fmt.Errorf("cannot derive a board token from %q", baseURL)
	}
	return fmt.Sprintf("https://boards-api.greenhouse.io/v1/boards/%s/jobs?content=true", url.PathEscape(token)), nil
}

// parseBoardTime picks the first parseable timestamp. The board API
// emits RFC3339 with a numeric zone offset.
func parseBoardTime(candidates ...string) *time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, c); err == nil {
			return &t
		}
	}
	return nil
}
