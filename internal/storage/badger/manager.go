package badger

import (
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/venator/internal/common"
	"github.com/ternarybob/venator/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	session interfaces.SessionStorage
	failure interfaces.FailureStorage
	result  interfaces.ResultStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		session: NewSessionStorage(db, logger),
		failure: NewFailureStorage(db, logger),
		result:  NewResultStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// SessionStorage returns the session-pool storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.session
}

// FailureStorage returns the failure-log storage interface
func (m *Manager) FailureStorage() interfaces.FailureStorage {
	return m.failure
}

// ResultStorage returns the result storage interface
func (m *Manager) ResultStorage() interfaces.ResultStorage {
	return m.result
}

// Badger exposes the raw database handle for the task queue
func (m *Manager) Badger() *badgerdb.DB {
	return m.db.Badger()
}

// Close closes the underlying database
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing Badger storage manager")
	return m.db.Close()
}
