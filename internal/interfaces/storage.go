package interfaces

import (
	"context"

	"github.com/ternarybob/easel/internal/models"
)

// SessionStorage - interface for session persistence
type SessionStorage interface {
	StoreSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]*models.Session, error)
}

// GenerationStorage - interface for generation and batch persistence
type GenerationStorage interface {
	StoreGeneration(ctx context.Context, gen *models.Generation) error
	GetGeneration(ctx context.Context, id string) (*models.Generation, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Generation, error)
	ListBySessionStage(ctx context.Context, sessionID string, stage int) ([]*models.Generation, error)
	ListByStatus(ctx context.Context, status models.GenerationStatus) ([]*models.Generation, error)
	DeleteBySession(ctx context.Context, sessionID string) (int, error)

	StoreBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
}

// PreferenceStorage - interface for preference records and materialized stats
type PreferenceStorage interface {
	AppendRecord(ctx context.Context, record *models.PreferenceRecord) error
	ListRecords(ctx context.Context) ([]*models.PreferenceRecord, error)

	UpsertStat(ctx context.Context, stat *models.PreferenceStat) error
	GetStat(ctx context.Context, key string) (*models.PreferenceStat, error)
	ListStats(ctx context.Context) ([]*models.PreferenceStat, error)

	// ReplaceAll atomically swaps the full engine state, used by import.
	ReplaceAll(ctx context.Context, records []*models.PreferenceRecord, stats []*models.PreferenceStat) error
}

// StorageManager provides access to all typed stores
type StorageManager interface {
	SessionStorage() SessionStorage
	GenerationStorage() GenerationStorage
	PreferenceStorage() PreferenceStorage
	Close() error
}
