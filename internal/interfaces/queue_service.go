package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/peto/internal/models"
)

// EnqueueResult reports the outcome of a single enqueue attempt
type EnqueueResult struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url"`
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	Reason    string `json:"reason,omitempty"`
}

// QueueStats summarizes queue state for status endpoints and events
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// QueueManager manages the durable work queue
type QueueManager interface {
	// Enqueue stores a new item after canonicalization and dedup. A
	// duplicate is not an error; the result reports it.
	Enqueue(ctx context.Context, item *models.QueueItem) (*EnqueueResult, error)

	// EnqueueBatch stores many items, deduplicating within the batch and
	// against the store. Results are positional.
	EnqueueBatch(ctx context.Context, items []*models.QueueItem) ([]EnqueueResult, error)

	// RecordSkipped writes an item directly in SKIPPED so a rejected
	// submission's fate stays queryable.
	RecordSkipped(ctx context.Context, item *models.QueueItem, reason string) (*EnqueueResult, error)

	// Claim leases up to limit PENDING items for processing.
	Claim(ctx context.Context, limit int) ([]*models.QueueItem, error)

	// Complete finishes a claimed item with a terminal status.
	Complete(ctx context.Context, id string, status models.QueueItemStatus, resultMessage string, errDetails *models.ErrorDetails) error

	// Fail records a processing failure: retryable errors release the item
	// back to PENDING until max_retries, everything else goes FAILED.
	Fail(ctx context.Context, id string, cause error) error

	// ExtendLease keeps a long-running item claimed.
	ExtendLease(ctx context.Context, id string, d time.Duration) error

	// RecoverStale releases items whose lease expired.
	RecoverStale(ctx context.Context) (int, error)

	Get(ctx context.Context, id string) (*models.QueueItem, error)
	List(ctx context.Context, opts *QueueListOptions) ([]*models.QueueItem, error)
	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup deletes terminal items older than the retention window.
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

// ItemProcessor handles one claimed queue item and returns its outcome.
// A nil error means SUCCESS; skip and failure outcomes are conveyed via
// models.KindError.
type ItemProcessor interface {
	Process(ctx context.Context, item *models.QueueItem) (resultMessage string, err error)
}

// WorkerPool runs the claim-process-complete loop
type WorkerPool interface {
	Start() error
	Stop() error
	InFlight() int
}
