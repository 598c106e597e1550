package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PreferenceStorage implements the PreferenceStorage interface for Badger
type PreferenceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPreferenceStorage creates a new PreferenceStorage instance
func NewPreferenceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PreferenceStorage {
	return &PreferenceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PreferenceStorage) AppendRecord(ctx context.Context, record *models.PreferenceRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record ID is required")
	}
	if err := s.db.Store().Insert(record.ID, record); err != nil {
		return fmt.Errorf("failed to append preference record: %w", err)
	}
	return nil
}

func (s *PreferenceStorage) ListRecords(ctx context.Context) ([]*models.PreferenceRecord, error) {
	var records []models.PreferenceRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("ID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list preference records: %w", err)
	}
	result := make([]*models.PreferenceRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *PreferenceStorage) UpsertStat(ctx context.Context, stat *models.PreferenceStat) error {
	if stat.Key == "" {
		return fmt.Errorf("stat key is required")
	}
	if err := s.db.Store().Upsert(stat.Key, stat); err != nil {
		return fmt.Errorf("failed to upsert preference stat: %w", err)
	}
	return nil
}

func (s *PreferenceStorage) GetStat(ctx context.Context, key string) (*models.PreferenceStat, error) {
	var stat models.PreferenceStat
	if err := s.db.Store().Get(key, &stat); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.Errorf(models.ErrNotFound, "stat not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get preference stat: %w", err)
	}
	return &stat, nil
}

func (s *PreferenceStorage) ListStats(ctx context.Context) ([]*models.PreferenceStat, error) {
	var stats []models.PreferenceStat
	if err := s.db.Store().Find(&stats, badgerhold.Where("Key").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list preference stats: %w", err)
	}
	result := make([]*models.PreferenceStat, len(stats))
	for i := range stats {
		result[i] = &stats[i]
	}
	return result, nil
}

// ReplaceAll swaps the full preference state in one Badger transaction so an
// import either lands completely or not at all.
func (s *PreferenceStorage) ReplaceAll(ctx context.Context, records []*models.PreferenceRecord, stats []*models.PreferenceStat) error {
	store := s.db.Store()
	return store.Badger().Update(func(tx *badgerdb.Txn) error {
		if err := store.TxDeleteMatching(tx, &models.PreferenceRecord{}, badgerhold.Where("ID").Ne("")); err != nil {
			return fmt.Errorf("failed to clear preference records: %w", err)
		}
		if err := store.TxDeleteMatching(tx, &models.PreferenceStat{}, badgerhold.Where("Key").Ne("")); err != nil {
			return fmt.Errorf("failed to clear preference stats: %w", err)
		}
		for _, r := range records {
			if err := store.TxUpsert(tx, r.ID, r); err != nil {
				return fmt.Errorf("failed to import record %s: %w", r.ID, err)
			}
		}
		for _, st := range stats {
			if err := store.TxUpsert(tx, st.Key, st); err != nil {
				return fmt.Errorf("failed to import stat %s: %w", st.Key, err)
			}
		}
		return nil
	})
}
