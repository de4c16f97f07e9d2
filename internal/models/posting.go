package models

import (
	"strings"
	"time"
)

// JobPosting is the scraper-facing shape of a job advert. Listing adapters
// return one per discovered job; the detail scraper fills in whatever the
// listing left sparse. Serialized onto queue items as scraped_data.
type JobPosting struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	CompanyName string     `json:"company_name,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

// IsSparse reports whether the posting lacks the fields scoring needs,
// meaning a detail scrape is required first.
func (p *JobPosting) IsSparse() bool {
	return strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Description) == ""
}
