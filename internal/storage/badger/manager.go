package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/easel/internal/common"
	"github.com/ternarybob/easel/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	session    interfaces.SessionStorage
	generation interfaces.GenerationStorage
	preference interfaces.PreferenceStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		session:    NewSessionStorage(db, logger),
		generation: NewGenerationStorage(db, logger),
		preference: NewPreferenceStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// SessionStorage returns the Session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.session
}

// GenerationStorage returns the Generation storage interface
func (m *Manager) GenerationStorage() interfaces.GenerationStorage {
	return m.generation
}

// PreferenceStorage returns the Preference storage interface
func (m *Manager) PreferenceStorage() interfaces.PreferenceStorage {
	return m.preference
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
