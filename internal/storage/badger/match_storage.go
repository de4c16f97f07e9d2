package badger

import (
	"context"
	"errors"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// MatchStorage implements the MatchStorage interface for Badger
type MatchStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMatchStorage creates a new MatchStorage instance
func NewMatchStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MatchStorage {
	return &MatchStorage{
		db:     db,
		logger: logger,
	}
}

// SaveIfBetter writes the match unless the stored record for the same
// url_hash already has a higher score. The comparison and the write share
// one transaction, so two workers finishing the same posting cannot
// interleave a lower score over a higher one.
func (s *MatchStorage) SaveIfBetter(ctx context.Context, match *models.JobMatch) (bool, error) {
	if match.URLHash == "" {
		return false, preconditionFailed("save match", "url_hash is required")
	}

	stored := false
	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var existing models.JobMatch
		err := s.db.Store().TxGet(txn, match.URLHash, &existing)
		if errors.Is(err, badgerhold.ErrNotFound) {
			if match.CreatedAt.IsZero() {
				match.CreatedAt = time.Now()
			}
			stored = true
			return s.db.Store().TxInsert(txn, match.URLHash, *match)
		}
		if err != nil {
			return err
		}

		if !match.Supersedes(&existing) {
			return nil
		}
		match.CreatedAt = existing.CreatedAt
		stored = true
		return s.db.Store().TxUpdate(txn, match.URLHash, *match)
	})
	if err != nil {
		return false, classify("save match", err)
	}

	if stored {
		s.logger.Debug().
			Str("url_hash", match.URLHash).
			Int("score", match.Score).
			Str("priority", string(match.Priority)).
			Msg("BadgerDB: Stored job match")
	}
	return stored, nil
}

func (s *MatchStorage) Get(ctx context.Context, urlHash string) (*models.JobMatch, error) {
	var match models.JobMatch
	if err := s.db.Store().Get(urlHash, &match); err != nil {
		return nil, classify("get match", err)
	}
	return &match, nil
}

func (s *MatchStorage) List(ctx context.Context, opts *interfaces.MatchListOptions) ([]*models.JobMatch, error) {
	var matches []models.JobMatch
	if err := s.db.Store().Find(&matches, nil); err != nil {
		return nil, classify("list matches", err)
	}

	result := make([]*models.JobMatch, 0, len(matches))
	for i := range matches {
		m := &matches[i]
		if opts != nil {
			if opts.MinScore > 0 && m.Score < opts.MinScore {
				continue
			}
			if opts.Priority != "" && m.Priority != opts.Priority {
				continue
			}
			if opts.Since != nil && m.ScoredAt.Before(*opts.Since) {
				continue
			}
		}
		result = append(result, m)
	}

	if opts != nil && opts.SortByScore {
		sort.Slice(result, func(i, j int) bool {
			if result[i].Score != result[j].Score {
				return result[i].Score > result[j].Score
			}
			return result[i].ScoredAt.After(result[j].ScoredAt)
		})
	} else {
		sort.Slice(result, func(i, j int) bool {
			return result[i].ScoredAt.After(result[j].ScoredAt)
		})
	}

	if opts != nil {
		if opts.Offset > 0 {
			if opts.Offset >= len(result) {
				return []*models.JobMatch{}, nil
			}
			result = result[opts.Offset:]
		}
		if opts.Limit > 0 && opts.Limit < len(result) {
			result = result[:opts.Limit]
		}
	}
	return result, nil
}

func (s *MatchStorage) Count(ctx context.Context) (int, error) {
	n, err := s.db.Store().Count(&models.JobMatch{}, nil)
	if err != nil {
		return 0, classify("count matches", err)
	}
	return int(n), nil
}

func (s *MatchStorage) Delete(ctx context.Context, urlHash string) error {
	if err := s.db.Store().Delete(urlHash, &models.JobMatch{}); err != nil {
		return classify("delete match", err)
	}
	return nil
}
