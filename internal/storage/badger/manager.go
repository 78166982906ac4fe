package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	job      interfaces.JobStorage
	ledger   interfaces.LedgerStorage
	jobEvent interfaces.JobEventStorage
	user     interfaces.UserStorage
	bridge   interfaces.BridgeStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		job:      NewJobStorage(db, logger),
		ledger:   NewLedgerStorage(db, logger),
		jobEvent: NewJobEventStorage(db, logger),
		user:     NewUserStorage(db, logger),
		bridge:   NewBridgeStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// LedgerStorage returns the Ledger storage interface
func (m *Manager) LedgerStorage() interfaces.LedgerStorage {
	return m.ledger
}

// JobEventStorage returns the JobEvent storage interface
func (m *Manager) JobEventStorage() interfaces.JobEventStorage {
	return m.jobEvent
}

// UserStorage returns the User storage interface
func (m *Manager) UserStorage() interfaces.UserStorage {
	return m.user
}

// BridgeStorage returns the Bridge storage interface
func (m *Manager) BridgeStorage() interfaces.BridgeStorage {
	return m.bridge
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
