package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/common"
	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

func newTestPreferenceStorage(t *testing.T) interfaces.PreferenceStorage {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPreferenceStorage(db, logger)
}

func TestPreferenceStorage_RecordsAndStats(t *testing.T) {
	storage := newTestPreferenceStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.AppendRecord(ctx, &models.PreferenceRecord{
		ID:        "rec_1",
		SessionID: "ses_1",
		Keywords:  []string{"castle"},
		Model:     "modelA",
		Action:    models.ActionSelected,
		CreatedAt: time.Now(),
	}))
	require.NoError(t, storage.UpsertStat(ctx, &models.PreferenceStat{
		Key:       models.StatKey(models.DimModel, "modelA", ""),
		Dimension: models.DimModel,
		A:         "modelA",
		Selected:  1,
		Total:     1,
	}))

	records, err := storage.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	stats, err := storage.ListStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
}

func TestPreferenceStorage_ReplaceAllSwapsState(t *testing.T) {
	storage := newTestPreferenceStorage(t)
	ctx := context.Background()

	for _, id := range []string{"rec_old_1", "rec_old_2"} {
		require.NoError(t, storage.AppendRecord(ctx, &models.PreferenceRecord{
			ID:        id,
			SessionID: "ses_1",
			Model:     "modelA",
			Action:    models.ActionSelected,
			CreatedAt: time.Now(),
		}))
	}
	require.NoError(t, storage.UpsertStat(ctx, &models.PreferenceStat{
		Key:       models.StatKey(models.DimModel, "modelA", ""),
		Dimension: models.DimModel,
		A:         "modelA",
		Selected:  2,
		Total:     2,
	}))

	err := storage.ReplaceAll(ctx,
		[]*models.PreferenceRecord{{
			ID:        "rec_new",
			SessionID: "ses_2",
			Model:     "modelB",
			Action:    models.ActionSelected,
			CreatedAt: time.Now(),
		}},
		[]*models.PreferenceStat{{
			Key:       models.StatKey(models.DimModel, "modelB", ""),
			Dimension: models.DimModel,
			A:         "modelB",
			Selected:  1,
			Total:     1,
		}})
	require.NoError(t, err)

	// Nothing from before the import survives.
	records, err := storage.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "rec_new", records[0].ID)

	stats, err := storage.ListStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "modelB", stats[0].A)
}
