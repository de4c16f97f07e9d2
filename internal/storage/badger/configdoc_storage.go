package badger

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// ConfigDocStorage implements the ConfigDocStorage interface for Badger
type ConfigDocStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewConfigDocStorage creates a new ConfigDocStorage instance
func NewConfigDocStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ConfigDocStorage {
	return &ConfigDocStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ConfigDocStorage) GetDoc(ctx context.Context, id string) (*models.ConfigDoc, error) {
	var doc models.ConfigDoc
	if err := s.db.Store().Get(id, &doc); err != nil {
		return nil, classify("get config doc", err)
	}
	return &doc, nil
}

func (s *ConfigDocStorage) PutDoc(ctx context.Context, doc *models.ConfigDoc) error {
	if doc.ID == "" {
		return preconditionFailed("put config doc", "doc id is required")
	}
	doc.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(doc.ID, *doc); err != nil {
		return classify("put config doc", err)
	}

	s.logger.Debug().Str("doc_id", doc.ID).Msg("BadgerDB: Stored config doc")
	return nil
}

func (s *ConfigDocStorage) ListDocs(ctx context.Context) ([]*models.ConfigDoc, error) {
	var docs []models.ConfigDoc
	if err := s.db.Store().Find(&docs, nil); err != nil {
		return nil, classify("list config docs", err)
	}
	result := make([]*models.ConfigDoc, 0, len(docs))
	for i := range docs {
		result = append(result, &docs[i])
	}
	return result, nil
}
