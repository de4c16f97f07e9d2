package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	queue     interfaces.QueueStorage
	company   interfaces.CompanyStorage
	source    interfaces.SourceStorage
	match     interfaces.MatchStorage
	configDoc interfaces.ConfigDocStorage
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.StorageConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		queue:     NewQueueStorage(db, logger),
		company:   NewCompanyStorage(db, logger),
		source:    NewSourceStorage(db, logger),
		match:     NewMatchStorage(db, logger),
		configDoc: NewConfigDocStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// QueueStorage returns the queue storage interface
func (m *Manager) QueueStorage() interfaces.QueueStorage {
	return m.queue
}

// CompanyStorage returns the company storage interface
func (m *Manager) CompanyStorage() interfaces.CompanyStorage {
	return m.company
}

// SourceStorage returns the source storage interface
func (m *Manager) SourceStorage() interfaces.SourceStorage {
	return m.source
}

// MatchStorage returns the match storage interface
func (m *Manager) MatchStorage() interfaces.MatchStorage {
	return m.match
}

// ConfigDocStorage returns the config document storage interface
func (m *Manager) ConfigDocStorage() interfaces.ConfigDocStorage {
	return m.configDoc
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
