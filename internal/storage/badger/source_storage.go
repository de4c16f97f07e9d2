package badger

import (
	"context"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SourceStorage implements the SourceStorage interface for Badger
type SourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSourceStorage creates a new SourceStorage instance
func NewSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SourceStorage {
	return &SourceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SourceStorage) Save(ctx context.Context, source *models.Source) error {
	if err := source.Validate(); err != nil {
		return preconditionFailed("save source", err.Error())
	}
	now := time.Now()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	if err := s.db.Store().Upsert(source.SourceID, *source); err != nil {
		return classify("save source", err)
	}
	return nil
}

func (s *SourceStorage) Get(ctx context.Context, sourceID string) (*models.Source, error) {
	var source models.Source
	if err := s.db.Store().Get(sourceID, &source); err != nil {
		return nil, classify("get source", err)
	}
	return &source, nil
}

func (s *SourceStorage) List(ctx context.Context) ([]*models.Source, error) {
	var sources []models.Source
	if err := s.db.Store().Find(&sources, (&badgerhold.Query{}).SortBy("SourceID")); err != nil {
		return nil, classify("list sources", err)
	}
	result := make([]*models.Source, 0, len(sources))
	for i := range sources {
		result = append(result, &sources[i])
	}
	return result, nil
}

func (s *SourceStorage) ListEnabled(ctx context.Context) ([]*models.Source, error) {
	var sources []models.Source
	if err := s.db.Store().Find(&sources, badgerhold.Where("Enabled").Eq(true)); err != nil {
		return nil, classify("list enabled sources", err)
	}
	result := make([]*models.Source, 0, len(sources))
	for i := range sources {
		result = append(result, &sources[i])
	}
	return result, nil
}

func (s *SourceStorage) ListByCompany(ctx context.Context, companyID string) ([]*models.Source, error) {
	var sources []models.Source
	if err := s.db.Store().Find(&sources, badgerhold.Where("CompanyID").Eq(companyID)); err != nil {
		return nil, classify("list sources by company", err)
	}
	result := make([]*models.Source, 0, len(sources))
	for i := range sources {
		result = append(result, &sources[i])
	}
	return result, nil
}

func (s *SourceStorage) Count(ctx context.Context) (int, error) {
	n, err := s.db.Store().Count(&models.Source{}, nil)
	if err != nil {
		return 0, classify("count sources", err)
	}
	return int(n), nil
}

func (s *SourceStorage) Delete(ctx context.Context, sourceID string) error {
	if err := s.db.Store().Delete(sourceID, &models.Source{}); err != nil {
		return classify("delete source", err)
	}
	return nil
}

// RecordAttempt folds one scrape outcome into the source row: attempt
// ring, success/failure counters, job totals, last_scraped_at, duration
// and the recalculated health score, all in one transaction.
func (s *SourceStorage) RecordAttempt(ctx context.Context, sourceID string, at time.Time, ok bool, duration time.Duration, jobsFound int) error {
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var source models.Source
		if err := s.db.Store().TxGet(txn, sourceID, &source); err != nil {
			return err
		}

		source.RecordAttempt(at, ok)
		source.RecalcHealth()
		if ok {
			source.SuccessCount++
		} else {
			source.FailureCount++
		}
		source.TotalJobsFound += int64(jobsFound)
		scraped := at
		source.LastScrapedAt = &scraped
		source.LastDurationMS = duration.Milliseconds()
		source.UpdatedAt = time.Now()

		return s.db.Store().TxUpdate(txn, sourceID, source)
	})
	if err != nil {
		return classify("record source attempt", err)
	}

	s.logger.Trace().
		Str("source_id", sourceID).
		Bool("ok", ok).
		Int("jobs_found", jobsFound).
		Dur("duration", duration).
		Msg("BadgerDB: Recorded source attempt")
	return nil
}
