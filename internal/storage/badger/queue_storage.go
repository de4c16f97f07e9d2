package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// batchExistsFanIn caps how many keys a single existence query carries.
// Callers pass arbitrary batch sizes; chunking happens here.
const batchExistsFanIn = 10

// QueueStorage implements the QueueStorage interface for Badger.
// Claim, Complete, Release and ExtendLease run inside a single badger
// transaction so the status check and the write commit together; a lost
// race surfaces as STORAGE_PRECONDITION (or a transient conflict) instead
// of a double-processed item.
type QueueStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewQueueStorage creates a new QueueStorage instance
func NewQueueStorage(db *BadgerDB, logger arbor.ILogger) interfaces.QueueStorage {
	return &QueueStorage{
		db:     db,
		logger: logger,
	}
}

func (s *QueueStorage) Insert(ctx context.Context, item *models.QueueItem) error {
	if err := item.Validate(); err != nil {
		return models.NewKindError(models.ErrKindInternal, "queue item failed validation", err)
	}

	s.logger.Trace().
		Str("item_id", item.ID).
		Str("url_hash", item.URLHash).
		Msg("BadgerDB: Insert queue item")

	if err := s.db.Store().Insert(item.ID, *item); err != nil {
		return classify("insert queue item", err)
	}
	return nil
}

func (s *QueueStorage) InsertBatch(ctx context.Context, items []*models.QueueItem) (int, error) {
	stored := 0
	for _, item := range items {
		if err := s.Insert(ctx, item); err != nil {
			s.logger.Warn().Err(err).Str("item_id", item.ID).Msg("BadgerDB: Batch insert item failed")
			continue
		}
		stored++
	}
	return stored, nil
}

// Claim atomically transitions up to limit oldest PENDING items to
// PROCESSING. The find and the writes share one transaction; a concurrent
// claimer conflicts at commit and retries, so no item is leased twice.
func (s *QueueStorage) Claim(ctx context.Context, limit int, leaseUntil time.Time) ([]*models.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []*models.QueueItem
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var pending []models.QueueItem
		query := badgerhold.Where("Status").Eq(models.StatusPending).
			SortBy("CreatedAt", "ID").
			Limit(limit)
		if err := s.db.Store().TxFind(txn, &pending, query); err != nil {
			return err
		}

		now := time.Now()
		for i := range pending {
			item := pending[i]
			item.Status = models.StatusProcessing
			item.ProcessedAt = &now
			lease := leaseUntil
			item.LeaseExpires = &lease
			item.UpdatedAt = now
			if err := s.db.Store().TxUpdate(txn, item.ID, item); err != nil {
				return err
			}
			claimed = append(claimed, &item)
		}
		return nil
	})
	if err != nil {
		return nil, classify("claim queue items", err)
	}

	if len(claimed) > 0 {
		s.logger.Debug().
			Int("claimed", len(claimed)).
			Str("lease_until", leaseUntil.Format(time.RFC3339)).
			Msg("BadgerDB: Claimed queue items")
	}
	return claimed, nil
}

func (s *QueueStorage) Complete(ctx context.Context, id string, status models.QueueItemStatus, resultMessage string, errDetails *models.ErrorDetails) error {
	if !status.IsTerminal() {
		return preconditionFailed("complete queue item", fmt.Sprintf("status %s is not terminal", status))
	}

	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var item models.QueueItem
		if err := s.db.Store().TxGet(txn, id, &item); err != nil {
			return err
		}
		if item.Status != models.StatusProcessing {
			return preconditionFailed("complete queue item", fmt.Sprintf("item %s is %s, want PROCESSING", id, item.Status))
		}

		now := time.Now()
		item.Status = status
		item.ResultMessage = resultMessage
		if errDetails != nil {
			item.ErrorDetails = errDetails
		}
		item.CompletedAt = &now
		item.UpdatedAt = now
		item.LeaseExpires = nil
		return s.db.Store().TxUpdate(txn, id, item)
	})
	if err != nil {
		return classify("complete queue item", err)
	}

	s.logger.Trace().
		Str("item_id", id).
		Str("status", string(status)).
		Msg("BadgerDB: Completed queue item")
	return nil
}

// Release returns a PROCESSING item to PENDING. created_at is untouched,
// so the item keeps its position in FIFO order rather than moving to the
// back of the queue. With incrementRetry, an item whose retry count reaches
// max_retries goes to FAILED instead.
func (s *QueueStorage) Release(ctx context.Context, id string, incrementRetry bool, errDetails *models.ErrorDetails) (models.QueueItemStatus, error) {
	var result models.QueueItemStatus
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var item models.QueueItem
		if err := s.db.Store().TxGet(txn, id, &item); err != nil {
			return err
		}
		if item.Status != models.StatusProcessing {
			return preconditionFailed("release queue item", fmt.Sprintf("item %s is %s, want PROCESSING", id, item.Status))
		}

		now := time.Now()
		if incrementRetry {
			item.RetryCount++
		}
		if errDetails != nil {
			item.ErrorDetails = errDetails
		}
		if incrementRetry && item.RetryCount >= item.MaxRetries {
			item.Status = models.StatusFailed
			item.CompletedAt = &now
			if errDetails != nil {
				item.ResultMessage = errDetails.Message
			}
		} else {
			item.Status = models.StatusPending
			item.ProcessedAt = nil
		}
		item.LeaseExpires = nil
		item.UpdatedAt = now
		result = item.Status
		return s.db.Store().TxUpdate(txn, id, item)
	})
	if err != nil {
		return "", classify("release queue item", err)
	}

	s.logger.Trace().
		Str("item_id", id).
		Str("status", string(result)).
		Bool("increment_retry", incrementRetry).
		Msg("BadgerDB: Released queue item")
	return result, nil
}

func (s *QueueStorage) ExtendLease(ctx context.Context, id string, leaseUntil time.Time) error {
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var item models.QueueItem
		if err := s.db.Store().TxGet(txn, id, &item); err != nil {
			return err
		}
		if item.Status != models.StatusProcessing {
			return preconditionFailed("extend lease", fmt.Sprintf("item %s is %s, want PROCESSING", id, item.Status))
		}

		lease := leaseUntil
		item.LeaseExpires = &lease
		item.UpdatedAt = time.Now()
		return s.db.Store().TxUpdate(txn, id, item)
	})
	if err != nil {
		return classify("extend lease", err)
	}
	return nil
}

// ReleaseExpired recovers PROCESSING items whose lease has elapsed. The
// prior holder crashed rather than observed a failure, so retry_count is
// not incremented.
func (s *QueueStorage) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	released := 0
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var processing []models.QueueItem
		if err := s.db.Store().TxFind(txn, &processing, badgerhold.Where("Status").Eq(models.StatusProcessing)); err != nil {
			return err
		}

		// Lease expiry is a pointer field; filter in memory rather than in
		// the query to avoid reflection on nil pointers.
		for i := range processing {
			item := processing[i]
			if item.LeaseExpires == nil || item.LeaseExpires.After(now) {
				continue
			}
			item.Status = models.StatusPending
			item.ProcessedAt = nil
			item.LeaseExpires = nil
			item.UpdatedAt = now
			if err := s.db.Store().TxUpdate(txn, item.ID, item); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, classify("release expired leases", err)
	}

	if released > 0 {
		s.logger.Info().
			Int("released", released).
			Msg("BadgerDB: Recovered items with expired leases")
	}
	return released, nil
}

func (s *QueueStorage) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := s.db.Store().Get(id, &item); err != nil {
		return nil, classify("get queue item", err)
	}
	return &item, nil
}

func (s *QueueStorage) List(ctx context.Context, opts *interfaces.QueueListOptions) ([]*models.QueueItem, error) {
	query := &badgerhold.Query{}
	if opts != nil && opts.Status != "" {
		query = badgerhold.Where("Status").Eq(opts.Status)
	}

	var items []models.QueueItem
	if err := s.db.Store().Find(&items, query.SortBy("CreatedAt", "ID").Reverse()); err != nil {
		return nil, classify("list queue items", err)
	}

	result := make([]*models.QueueItem, 0, len(items))
	for i := range items {
		if opts != nil && opts.Type != "" && items[i].Type != opts.Type {
			continue
		}
		result = append(result, &items[i])
	}

	// Apply pagination after the in-memory type filter
	if opts != nil {
		if opts.Offset > 0 {
			if opts.Offset >= len(result) {
				return []*models.QueueItem{}, nil
			}
			result = result[opts.Offset:]
		}
		if opts.Limit > 0 && opts.Limit < len(result) {
			result = result[:opts.Limit]
		}
	}
	return result, nil
}

func (s *QueueStorage) CountByStatus(ctx context.Context) (map[models.QueueItemStatus]int, error) {
	counts := make(map[models.QueueItemStatus]int, 5)
	for _, status := range []models.QueueItemStatus{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusSuccess,
		models.StatusSkipped,
		models.StatusFailed,
	} {
		n, err := s.db.Store().Count(&models.QueueItem{}, badgerhold.Where("Status").Eq(status))
		if err != nil {
			return nil, classify("count queue items", err)
		}
		counts[status] = int(n)
	}
	return counts, nil
}

// HashExists reports whether any item with the hash exists in a non-FAILED
// status. FAILED items do not block re-submission.
func (s *QueueStorage) HashExists(ctx context.Context, urlHash string) (bool, error) {
	n, err := s.db.Store().Count(&models.QueueItem{},
		badgerhold.Where("URLHash").Eq(urlHash).And("Status").Ne(models.StatusFailed))
	if err != nil {
		return false, classify("check url hash", err)
	}
	return n > 0, nil
}

// ExistingHashes answers existence for arbitrarily many hashes, fanning in
// at most batchExistsFanIn keys per underlying query.
func (s *QueueStorage) ExistingHashes(ctx context.Context, urlHashes []string) (map[string]bool, error) {
	exists := make(map[string]bool, len(urlHashes))
	for start := 0; start < len(urlHashes); start += batchExistsFanIn {
		end := start + batchExistsFanIn
		if end > len(urlHashes) {
			end = len(urlHashes)
		}
		chunk := urlHashes[start:end]

		keys := make([]interface{}, len(chunk))
		for i, h := range chunk {
			keys[i] = h
		}

		var items []models.QueueItem
		query := badgerhold.Where("URLHash").In(keys...).And("Status").Ne(models.StatusFailed)
		if err := s.db.Store().Find(&items, query); err != nil {
			return nil, classify("batch check url hashes", err)
		}
		for i := range items {
			exists[items[i].URLHash] = true
		}
	}
	return exists, nil
}

func (s *QueueStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var terminal []models.QueueItem
	query := badgerhold.Where("Status").In(models.StatusSuccess, models.StatusSkipped, models.StatusFailed)
	if err := s.db.Store().Find(&terminal, query); err != nil {
		return 0, classify("list terminal queue items", err)
	}

	deleted := 0
	for i := range terminal {
		// completed_at is a pointer field; filter in memory.
		if terminal[i].CompletedAt == nil || !terminal[i].CompletedAt.Before(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(terminal[i].ID, &models.QueueItem{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("item_id", terminal[i].ID).Msg("BadgerDB: Failed to delete terminal item")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("BadgerDB: Deleted terminal queue items past retention")
	}
	return deleted, nil
}

func (s *QueueStorage) ClearAll(ctx context.Context) error {
	if err := s.db.Store().DeleteMatching(&models.QueueItem{}, nil); err != nil {
		return classify("clear queue", err)
	}
	s.logger.Info().Msg("BadgerDB: Cleared all queue items")
	return nil
}
