package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueItemType identifies what a queue item asks the pipeline to do
type QueueItemType string

const (
	ItemTypeJob     QueueItemType = "JOB"
	ItemTypeCompany QueueItemType = "COMPANY"
)

// QueueItemStatus is the queue state machine position of an item
type QueueItemStatus string

const (
	StatusPending    QueueItemStatus = "PENDING"
	StatusProcessing QueueItemStatus = "PROCESSING"
	StatusSuccess    QueueItemStatus = "SUCCESS"
	StatusSkipped    QueueItemStatus = "SKIPPED"
	StatusFailed     QueueItemStatus = "FAILED"
)

// IsTerminal reports whether the status permits no further transitions
func (s QueueItemStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusSkipped || s == StatusFailed
}

// ItemSource records which intake pathway produced an item
type ItemSource string

const (
	SourceScraper        ItemSource = "SCRAPER"
	SourceUserSubmission ItemSource = "USER_SUBMISSION"
	SourceWebhook        ItemSource = "WEBHOOK"
	SourceEmail          ItemSource = "EMAIL"
)

// ErrorDetails captures the most recent failure observed for an item
type ErrorDetails struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueItem is one unit of work in the job-queue collection.
// URLHash is immutable after insert and is the dedup identity for the item.
// CompanyWebsite is an enrichment hint carried from the submitter.
type QueueItem struct {
	ID             string          `json:"id" badgerhold:"key"`
	Type           QueueItemType   `json:"type"`
	Status         QueueItemStatus `json:"status" badgerhold:"index"`
	URL            string          `json:"url"`
	URLHash        string          `json:"url_hash" badgerhold:"index"`
	CompanyName    string          `json:"company_name,omitempty"`
	CompanyID      string          `json:"company_id,omitempty"`
	CompanyWebsite string          `json:"company_website,omitempty"`
	Source         ItemSource      `json:"source"`
	SubmittedBy    string          `json:"submitted_by,omitempty"`
	ScrapedData    json.RawMessage `json:"scraped_data,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	ErrorDetails   *ErrorDetails   `json:"error_details,omitempty"`
	ResultMessage  string          `json:"result_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	LeaseExpires   *time.Time      `json:"lease_expires_at,omitempty"`
}

// DefaultMaxRetries applies when an item arrives without an explicit limit
const DefaultMaxRetries = 3

// Validate checks the fields the queue manager requires on insert
func (q *QueueItem) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("queue item id is required")
	}
	if q.Type != ItemTypeJob && q.Type != ItemTypeCompany {
		return fmt.Errorf("invalid queue item type: %s", q.Type)
	}
	if q.URL == "" {
		return fmt.Errorf("queue item url is required")
	}
	if q.URLHash == "" {
		return fmt.Errorf("queue item url_hash is required")
	}
	switch q.Source {
	case SourceScraper, SourceUserSubmission, SourceWebhook, SourceEmail:
	default:
		return fmt.Errorf("invalid queue item source: %s", q.Source)
	}
	return nil
}

// HasScrapedData reports whether the item carries a usable scraper payload
func (q *QueueItem) HasScrapedData() bool {
	return len(q.ScrapedData) > 0 && string(q.ScrapedData) != "null"
}
