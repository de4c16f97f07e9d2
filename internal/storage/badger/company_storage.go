package badger

import (
	"context"
	"errors"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CompanyStorage implements the CompanyStorage interface for Badger
type CompanyStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCompanyStorage creates a new CompanyStorage instance
func NewCompanyStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CompanyStorage {
	return &CompanyStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CompanyStorage) Save(ctx context.Context, company *models.Company) error {
	if company.Slug == "" {
		return preconditionFailed("save company", "slug is required")
	}
	now := time.Now()
	if company.CreatedAt.IsZero() {
		company.CreatedAt = now
	}
	company.UpdatedAt = now

	if err := s.db.Store().Upsert(company.Slug, *company); err != nil {
		return classify("save company", err)
	}
	return nil
}

// Merge folds the incoming record into any existing one inside a single
// transaction. Non-empty existing fields win over empty incoming ones.
func (s *CompanyStorage) Merge(ctx context.Context, incoming *models.Company) (*models.Company, bool, error) {
	if incoming.Slug == "" {
		return nil, false, preconditionFailed("merge company", "slug is required")
	}

	var merged models.Company
	changed := false
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var existing models.Company
		err := s.db.Store().TxGet(txn, incoming.Slug, &existing)
		if errors.Is(err, badgerhold.ErrNotFound) {
			now := time.Now()
			merged = *incoming
			if merged.Size == "" {
				merged.Size = models.SizeUnknown
			}
			if merged.AnalysisStatus == "" {
				merged.AnalysisStatus = models.AnalysisPending
			}
			merged.CreatedAt = now
			merged.UpdatedAt = now
			changed = true
			return s.db.Store().TxInsert(txn, merged.Slug, merged)
		}
		if err != nil {
			return err
		}

		changed = existing.Merge(incoming)
		if !changed {
			merged = existing
			return nil
		}
		existing.UpdatedAt = time.Now()
		merged = existing
		return s.db.Store().TxUpdate(txn, existing.Slug, existing)
	})
	if err != nil {
		return nil, false, classify("merge company", err)
	}

	s.logger.Trace().
		Str("slug", incoming.Slug).
		Bool("changed", changed).
		Msg("BadgerDB: Merged company")
	return &merged, changed, nil
}

func (s *CompanyStorage) Get(ctx context.Context, slug string) (*models.Company, error) {
	var company models.Company
	if err := s.db.Store().Get(slug, &company); err != nil {
		return nil, classify("get company", err)
	}
	return &company, nil
}

func (s *CompanyStorage) List(ctx context.Context, limit, offset int) ([]*models.Company, error) {
	var companies []models.Company
	if err := s.db.Store().Find(&companies, (&badgerhold.Query{}).SortBy("Slug")); err != nil {
		return nil, classify("list companies", err)
	}

	result := make([]*models.Company, 0, len(companies))
	for i := range companies {
		result = append(result, &companies[i])
	}
	if offset > 0 {
		if offset >= len(result) {
			return []*models.Company{}, nil
		}
		result = result[offset:]
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *CompanyStorage) Count(ctx context.Context) (int, error) {
	n, err := s.db.Store().Count(&models.Company{}, nil)
	if err != nil {
		return 0, classify("count companies", err)
	}
	return int(n), nil
}

func (s *CompanyStorage) SetAnalysisStatus(ctx context.Context, slug string, status models.AnalysisStatus, analyzedAt *time.Time) error {
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var company models.Company
		if err := s.db.Store().TxGet(txn, slug, &company); err != nil {
			return err
		}
		company.AnalysisStatus = status
		if analyzedAt != nil {
			company.AnalyzedAt = analyzedAt
		}
		company.UpdatedAt = time.Now()
		return s.db.Store().TxUpdate(txn, slug, company)
	})
	if err != nil {
		return classify("set company analysis status", err)
	}
	return nil
}
