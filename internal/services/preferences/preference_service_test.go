package preferences

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// memoryStorage is an in-memory PreferenceStorage for tests.
type memoryStorage struct {
	records []*models.PreferenceRecord
	stats   map[string]*models.PreferenceStat
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{stats: make(map[string]*models.PreferenceStat)}
}

func (m *memoryStorage) AppendRecord(_ context.Context, record *models.PreferenceRecord) error {
	cp := *record
	m.records = append(m.records, &cp)
	return nil
}

func (m *memoryStorage) ListRecords(_ context.Context) ([]*models.PreferenceRecord, error) {
	return append([]*models.PreferenceRecord(nil), m.records...), nil
}

func (m *memoryStorage) UpsertStat(_ context.Context, stat *models.PreferenceStat) error {
	cp := *stat
	m.stats[stat.Key] = &cp
	return nil
}

func (m *memoryStorage) GetStat(_ context.Context, key string) (*models.PreferenceStat, error) {
	stat, ok := m.stats[key]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "stat not found: %s", key)
	}
	cp := *stat
	return &cp, nil
}

func (m *memoryStorage) ListStats(_ context.Context) ([]*models.PreferenceStat, error) {
	out := make([]*models.PreferenceStat, 0, len(m.stats))
	for _, st := range m.stats {
		cp := *st
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memoryStorage) ReplaceAll(_ context.Context, records []*models.PreferenceRecord, stats []*models.PreferenceStat) error {
	m.records = nil
	m.stats = make(map[string]*models.PreferenceStat)
	for _, r := range records {
		cp := *r
		m.records = append(m.records, &cp)
	}
	for _, st := range stats {
		cp := *st
		m.stats[st.Key] = &cp
	}
	return nil
}

func newTestService() (interfaces.PreferenceService, *memoryStorage) {
	storage := newMemoryStorage()
	return NewService(storage, arbor.NewLogger()), storage
}

func TestExtractKeywords(t *testing.T) {
	svc, _ := newTestService()

	t.Run("Lowercases, splits and filters", func(t *testing.T) {
		keywords := svc.ExtractKeywords("A Misty HARBOR, at dawn!")
		require.Equal(t, []string{"misty", "harbor", "dawn"}, keywords)
	})

	t.Run("Drops stopwords and short tokens", func(t *testing.T) {
		keywords := svc.ExtractKeywords("the cat and a fox in fog")
		require.Equal(t, []string{"cat", "fox", "fog"}, keywords)
	})

	t.Run("Deduplicates preserving first occurrence", func(t *testing.T) {
		keywords := svc.ExtractKeywords("forest deep forest dark forest")
		require.Equal(t, []string{"forest", "deep", "dark"}, keywords)
	})

	t.Run("Empty prompt", func(t *testing.T) {
		require.Empty(t, svc.ExtractKeywords(""))
	})
}

func TestRecord_UpdatesAllDimensions(t *testing.T) {
	svc, storage := newTestService()
	ctx := context.Background()

	err := svc.Record(ctx, "misty harbor", "modelA", []string{"loraX"}, models.ActionSelected, 1, "ses_1", "")
	require.NoError(t, err)

	require.Len(t, storage.records, 1)
	require.Equal(t, []string{"misty", "harbor"}, storage.records[0].Keywords)

	for _, key := range []string{
		models.StatKey(models.DimKeywordModel, "misty", "modelA"),
		models.StatKey(models.DimKeywordModel, "harbor", "modelA"),
		models.StatKey(models.DimKeywordAdapter, "misty", "loraX"),
		models.StatKey(models.DimKeywordAdapter, "harbor", "loraX"),
		models.StatKey(models.DimModelAdapter, "modelA", "loraX"),
		models.StatKey(models.DimModel, "modelA", ""),
	} {
		stat, err := storage.GetStat(ctx, key)
		require.NoError(t, err, key)
		require.Equal(t, 1, stat.Total, key)
		require.Equal(t, 1, stat.Selected, key)
	}
}

func TestRecord_RejectionCountsTotalOnly(t *testing.T) {
	svc, storage := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "misty harbor", "modelA", nil, models.ActionRejected, 1, "ses_1", "too dark"))

	stat, err := storage.GetStat(ctx, models.StatKey(models.DimKeywordModel, "misty", "modelA"))
	require.NoError(t, err)
	require.Equal(t, 1, stat.Total)
	require.Equal(t, 0, stat.Selected)
}

func TestRecommendModel_WarmupConfidence(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, svc.Record(ctx, "castle thing", "modelA", nil, models.ActionSelected, 1, "ses_1", ""))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Record(ctx, "castle thing", "modelB", nil, models.ActionSelected, 1, "ses_1", ""))
	}

	model, confidence, err := svc.RecommendModel(ctx, "castle thing", []string{"modelA", "modelB"})
	require.NoError(t, err)
	require.Equal(t, "modelA", model)
	require.GreaterOrEqual(t, confidence, 0.22)

	// Another 80 observations across the same keywords saturate confidence.
	for i := 0; i < 40; i++ {
		require.NoError(t, svc.Record(ctx, "castle thing", "modelA", nil, models.ActionRejected, 1, "ses_1", ""))
	}
	_, confidence, err = svc.RecommendModel(ctx, "castle thing", []string{"modelA", "modelB"})
	require.NoError(t, err)
	require.Equal(t, 1.0, confidence)
}

func TestRecommendModel_KeywordContextIsolation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, svc.Record(ctx, "anime girl portrait", "animeModel", nil, models.ActionSelected, 1, "ses_1", ""))
		require.NoError(t, svc.Record(ctx, "photoreal landscape mountains", "photoModel", nil, models.ActionSelected, 1, "ses_1", ""))
	}

	model, _, err := svc.RecommendModel(ctx, "anime girl", []string{"animeModel", "photoModel"})
	require.NoError(t, err)
	require.Equal(t, "animeModel", model)

	model, _, err = svc.RecommendModel(ctx, "photoreal mountains", []string{"animeModel", "photoModel"})
	require.NoError(t, err)
	require.Equal(t, "photoModel", model)
}

func TestRecommendModel_EmptyKeywords(t *testing.T) {
	svc, _ := newTestService()

	model, confidence, err := svc.RecommendModel(context.Background(), "a an of", []string{"modelB", "modelA"})
	require.NoError(t, err)
	require.Equal(t, "modelB", model)
	require.Equal(t, 0.0, confidence)
}

func TestRecommendModel_NoCandidates(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.RecommendModel(context.Background(), "castle", nil)
	require.Error(t, err)
	require.True(t, models.IsKind(err, models.ErrMissingParameter))
}

func TestRecommendAdapters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, svc.Record(ctx, "detailed castle", "modelA", []string{"detailLora"}, models.ActionSelected, 1, "ses_1", ""))
		require.NoError(t, svc.Record(ctx, "detailed castle", "modelA", []string{"noisyLora"}, models.ActionRejected, 1, "ses_1", ""))
	}

	scores, err := svc.RecommendAdapters(ctx, "detailed castle", "modelA", []string{"noisyLora", "detailLora", "unseenLora"}, 2)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	require.Equal(t, "detailLora", scores[0].Adapter)
	require.Greater(t, scores[0].Score, scores[1].Score)
	// The rejected adapter scores below even an unseen one.
	require.Equal(t, "unseenLora", scores[1].Adapter)
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "misty harbor", "modelA", []string{"loraX"}, models.ActionSelected, 1, "ses_1", ""))
	require.NoError(t, svc.Record(ctx, "misty harbor", "modelB", nil, models.ActionRejected, 1, "ses_1", "flat"))

	export, err := svc.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, models.PreferenceExportVersion, export.Version)
	require.Len(t, export.Records, 2)

	data, err := json.Marshal(export)
	require.NoError(t, err)

	fresh, _ := newTestService()
	require.NoError(t, fresh.Import(ctx, data))

	model, _, err := fresh.RecommendModel(ctx, "misty harbor", []string{"modelA", "modelB"})
	require.NoError(t, err)
	require.Equal(t, "modelA", model)

	summary, err := fresh.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Records)
}

func TestImport_RejectsCorruptInput(t *testing.T) {
	ctx := context.Background()

	t.Run("Invalid JSON", func(t *testing.T) {
		svc, _ := newTestService()
		err := svc.Import(ctx, []byte(`{"version": 1, "records": [`))
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrCorruptExport))
	})

	t.Run("Wrong version", func(t *testing.T) {
		svc, _ := newTestService()
		err := svc.Import(ctx, []byte(`{"version": 99, "records": [], "stats": []}`))
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrCorruptExport))
	})

	t.Run("Inconsistent stat leaves state untouched", func(t *testing.T) {
		svc, storage := newTestService()
		require.NoError(t, svc.Record(ctx, "castle", "modelA", nil, models.ActionSelected, 1, "ses_1", ""))

		bad := `{"version": 1, "records": [], "stats": [{"key": "model|x", "dimension": "model", "a": "x", "selected": 5, "total": 2}]}`
		err := svc.Import(ctx, []byte(bad))
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrCorruptExport))
		require.Len(t, storage.records, 1)
	})
}

func TestSummary(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "castle", "modelA", []string{"loraX"}, models.ActionSelected, 1, "ses_1", ""))

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Records)
	require.Equal(t, 1, summary.ByDimension[string(models.DimModel)])
	require.Len(t, summary.TopModels, 1)
	require.Equal(t, "modelA", summary.TopModels[0].A)
}
