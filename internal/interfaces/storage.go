package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/peto/internal/models"
)

// QueueListOptions filters queue item listings
type QueueListOptions struct {
	Status models.QueueItemStatus // empty = all statuses
	Type   models.QueueItemType   // empty = all types
	Limit  int
	Offset int
}

// MatchListOptions filters match listings
type MatchListOptions struct {
	MinScore    int
	Priority    models.MatchPriority // empty = all priorities
	Since       *time.Time
	Limit       int
	Offset      int
	SortByScore bool // true = score descending, false = scored_at descending
}

// QueueStorage - durable work queue persistence.
// Claim, Complete, Release and ExtendLease are conditional updates: they
// apply only when the item is in the expected state, so concurrent workers
// never double-process an item.
type QueueStorage interface {
	// Write operations
	Insert(ctx context.Context, item *models.QueueItem) error
	InsertBatch(ctx context.Context, items []*models.QueueItem) (int, error)

	// Claim atomically moves up to limit PENDING items (FIFO by created_at,
	// then id) to PROCESSING with the given lease expiry.
	Claim(ctx context.Context, limit int, leaseUntil time.Time) ([]*models.QueueItem, error)

	// Complete moves a PROCESSING item to a terminal status.
	Complete(ctx context.Context, id string, status models.QueueItemStatus, resultMessage string, errDetails *models.ErrorDetails) error

	// Release returns a PROCESSING item to PENDING, preserving created_at so
	// the item keeps its queue position. incrementRetry is false for lease
	// expiry recovery. When the incremented retry count reaches max_retries
	// the item goes to FAILED instead. Returns the resulting status.
	Release(ctx context.Context, id string, incrementRetry bool, errDetails *models.ErrorDetails) (models.QueueItemStatus, error)

	// ExtendLease pushes the lease expiry of a PROCESSING item.
	ExtendLease(ctx context.Context, id string, leaseUntil time.Time) error

	// ReleaseExpired recovers PROCESSING items whose lease has passed.
	// Returns the number of items released.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)

	// Read operations
	Get(ctx context.Context, id string) (*models.QueueItem, error)
	List(ctx context.Context, opts *QueueListOptions) ([]*models.QueueItem, error)
	CountByStatus(ctx context.Context) (map[models.QueueItemStatus]int, error)

	// Dedup operations
	HashExists(ctx context.Context, urlHash string) (bool, error)
	ExistingHashes(ctx context.Context, urlHashes []string) (map[string]bool, error)

	// Retention operations
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
	ClearAll(ctx context.Context) error
}

// CompanyStorage - company profile persistence keyed by slug
type CompanyStorage interface {
	Save(ctx context.Context, company *models.Company) error

	// Merge folds incoming fields into any existing record, never replacing
	// a populated field with an empty one. Returns the stored record and
	// whether anything changed.
	Merge(ctx context.Context, incoming *models.Company) (*models.Company, bool, error)

	Get(ctx context.Context, slug string) (*models.Company, error)
	List(ctx context.Context, limit, offset int) ([]*models.Company, error)
	Count(ctx context.Context) (int, error)

	// SetAnalysisStatus transitions the enrichment state machine.
	SetAnalysisStatus(ctx context.Context, slug string, status models.AnalysisStatus, analyzedAt *time.Time) error
}

// SourceStorage - scrape source persistence keyed by source_id
type SourceStorage interface {
	Save(ctx context.Context, source *models.Source) error
	Get(ctx context.Context, sourceID string) (*models.Source, error)
	List(ctx context.Context) ([]*models.Source, error)
	ListEnabled(ctx context.Context) ([]*models.Source, error)
	ListByCompany(ctx context.Context, companyID string) ([]*models.Source, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, sourceID string) error

	// RecordAttempt appends an attempt to the source's history and updates
	// counters, health score and last_scraped_at in one transaction.
	RecordAttempt(ctx context.Context, sourceID string, at time.Time, ok bool, duration time.Duration, jobsFound int) error
}

// MatchStorage - scored match persistence keyed by url_hash
type MatchStorage interface {
	// SaveIfBetter stores the match unless an existing record for the same
	// url_hash already has a higher score. Returns whether it was stored.
	SaveIfBetter(ctx context.Context, match *models.JobMatch) (bool, error)

	Get(ctx context.Context, urlHash string) (*models.JobMatch, error)
	List(ctx context.Context, opts *MatchListOptions) ([]*models.JobMatch, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, urlHash string) error
}

// ConfigDocStorage - runtime configuration documents (stop list, queue
// settings, AI settings)
type ConfigDocStorage interface {
	GetDoc(ctx context.Context, id string) (*models.ConfigDoc, error)
	PutDoc(ctx context.Context, doc *models.ConfigDoc) error
	ListDocs(ctx context.Context) ([]*models.ConfigDoc, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	QueueStorage() QueueStorage
	CompanyStorage() CompanyStorage
	SourceStorage() SourceStorage
	MatchStorage() MatchStorage
	ConfigDocStorage() ConfigDocStorage
	DB() interface{}
	Close() error
}
