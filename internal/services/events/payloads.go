package events

import (
	"time"

	"github.com/ternarybob/peto/internal/models"
)

// ItemEnqueuedPayload announces a new item accepted into the queue
type ItemEnqueuedPayload struct {
	ItemID string               `json:"item_id"`
	Type   models.QueueItemType `json:"type"`
	URL    string               `json:"url"`
	Source models.ItemSource    `json:"source"`
}

// ItemStartedPayload announces a worker claiming a queue item
type ItemStartedPayload struct {
	ItemID string               `json:"item_id"`
	Type   models.QueueItemType `json:"type"`
	URL    string               `json:"url"`
}

// ItemFinishedPayload announces the settled outcome of one processing
// attempt. Items released for retry report PENDING with the bumped
// retry count.
type ItemFinishedPayload struct {
	ItemID     string                 `json:"item_id"`
	Type       models.QueueItemType   `json:"type"`
	URL        string                 `json:"url"`
	Status     models.QueueItemStatus `json:"status"`
	Message    string                 `json:"message,omitempty"`
	RetryCount int                    `json:"retry_count"`
	Duration   time.Duration          `json:"duration_ms"`
}

// SourceScrapedPayload announces one finished rotation scrape
type SourceScrapedPayload struct {
	SourceID  string        `json:"source_id"`
	Kind      string        `json:"kind"`
	OK        bool          `json:"ok"`
	JobsFound int           `json:"jobs_found"`
	Duration  time.Duration `json:"duration_ms"`
	Error     string        `json:"error,omitempty"`
}

// MatchFoundPayload announces a posting that scored at or above the
// match threshold
type MatchFoundPayload struct {
	URLHash  string               `json:"url_hash"`
	URL      string               `json:"url"`
	Title    string               `json:"title"`
	Company  string               `json:"company"`
	Score    int                  `json:"score"`
	Priority models.MatchPriority `json:"priority"`
}

// RotationStartedPayload announces the beginning of a rotation cycle
type RotationStartedPayload struct {
	Picked  int `json:"picked"`
	Pending int `json:"pending"`
}

// RotationFinishedPayload summarizes a completed rotation cycle
type RotationFinishedPayload struct {
	Scraped   int           `json:"scraped"`
	Failed    int           `json:"failed"`
	JobsFound int           `json:"jobs_found"`
	Queued    int           `json:"queued"`
	Duration  time.Duration `json:"duration_ms"`
}

// QueueStatsPayload is the periodic queue depth broadcast
type QueueStatsPayload struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}
