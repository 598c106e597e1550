package preferences

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/common"
	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

const (
	// prior is the assumed selection rate with no evidence.
	prior = 0.5
	// smoothing controls how much evidence it takes for observed rates to
	// dominate the prior.
	smoothing = 10.0
	// confidenceScale is the total-observation count at which confidence
	// saturates at 1.0.
	confidenceScale = 100.0
	minKeywordLen   = 3
)

var stopwords = map[string]bool{
	"the": true, "and": true, "with": true, "for": true, "from": true,
	"this": true, "that": true, "are": true, "was": true, "were": true,
	"has": true, "have": true, "had": true, "but": true, "not": true,
	"you": true, "your": true, "its": true, "his": true, "her": true,
	"they": true, "them": true, "their": true, "our": true, "out": true,
	"all": true, "any": true, "can": true, "will": true, "into": true,
	"over": true, "under": true, "very": true, "more": true, "most": true,
	"some": true, "such": true, "than": true, "then": true, "there": true,
	"when": true, "where": true, "which": true, "while": true, "who": true,
	"about": true, "also": true, "been": true, "being": true, "both": true,
}

// Service learns which models and adapters get selected for which kinds of
// prompt. Writes go through the record path under one lock; recommendation
// queries read materialized stats from storage.
type Service struct {
	storage interfaces.PreferenceStorage
	logger  arbor.ILogger

	mu sync.Mutex
}

// NewService creates a preference engine over the given storage.
func NewService(storage interfaces.PreferenceStorage, logger arbor.ILogger) interfaces.PreferenceService {
	return &Service{storage: storage, logger: logger}
}

// ExtractKeywords tokenizes a prompt into its keyword set: lowercased,
// split on anything non-alphanumeric, stop-worded, and length-filtered.
// Order of first occurrence is preserved; duplicates collapse.
func (s *Service) ExtractKeywords(prompt string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})

	seen := make(map[string]bool, len(tokens))
	var keywords []string
	for _, tok := range tokens {
		if len(tok) < minKeywordLen || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
	}
	return keywords
}

// Record appends one preference record and bumps every derived dimension:
// (keyword, model), (keyword, adapter), (model, adapter) and the coarse
// (model) prior.
func (s *Service) Record(ctx context.Context, prompt, model string, adapters []string, action models.PreferenceAction, stage int, sessionID, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keywords := s.ExtractKeywords(prompt)
	record := &models.PreferenceRecord{
		ID:        common.NewRecordID(),
		SessionID: sessionID,
		Stage:     stage,
		Keywords:  keywords,
		Model:     model,
		Adapters:  append([]string(nil), adapters...),
		Action:    action,
		Feedback:  feedback,
		CreatedAt: time.Now(),
	}
	if err := s.storage.AppendRecord(ctx, record); err != nil {
		return err
	}

	selected := action == models.ActionSelected
	for _, k := range keywords {
		if err := s.bumpStat(ctx, models.DimKeywordModel, k, model, selected); err != nil {
			return err
		}
		for _, a := range adapters {
			if err := s.bumpStat(ctx, models.DimKeywordAdapter, k, a, selected); err != nil {
				return err
			}
		}
	}
	for _, a := range adapters {
		if err := s.bumpStat(ctx, models.DimModelAdapter, model, a, selected); err != nil {
			return err
		}
	}
	if err := s.bumpStat(ctx, models.DimModel, model, "", selected); err != nil {
		return err
	}

	s.logger.Debug().Str("model", model).Str("action", string(action)).Int("keywords", len(keywords)).Msg("Preference recorded")
	return nil
}

func (s *Service) bumpStat(ctx context.Context, dim models.StatDimension, a, b string, selected bool) error {
	key := models.StatKey(dim, a, b)
	stat, err := s.storage.GetStat(ctx, key)
	if err != nil {
		if !models.IsKind(err, models.ErrNotFound) {
			return err
		}
		stat = &models.PreferenceStat{Key: key, Dimension: dim, A: a, B: b}
	}

	stat.Total++
	if selected {
		stat.Selected++
	}
	stat.UpdatedAt = time.Now()
	return s.storage.UpsertStat(ctx, stat)
}

// blended combines the observed selection rate with the prior, weighted by
// how much evidence backs the observation.
func blended(selected, total int) float64 {
	if total <= 0 {
		return prior
	}
	rate := float64(selected) / float64(total)
	w := float64(total) / (float64(total) + smoothing)
	return (1-w)*prior + w*rate
}

// RecommendModel returns the best-scoring candidate for the prompt and the
// accumulated-evidence confidence. With no keywords there is nothing to
// score, so the first candidate comes back with confidence 0.
func (s *Service) RecommendModel(ctx context.Context, prompt string, candidates []string) (string, float64, error) {
	if len(candidates) == 0 {
		return "", 0, models.NewError(models.ErrMissingParameter, "no candidate models")
	}

	keywords := s.ExtractKeywords(prompt)
	if len(keywords) == 0 {
		return candidates[0], 0, nil
	}

	best := ""
	bestScore := -1.0
	totalEvidence := 0
	for _, m := range candidates {
		sum := 0.0
		for _, k := range keywords {
			sel, tot := s.statCounts(ctx, models.DimKeywordModel, k, m)
			sum += blended(sel, tot)
			totalEvidence += tot
		}
		score := sum / float64(len(keywords))
		if score > bestScore || (score == bestScore && m < best) {
			best = m
			bestScore = score
		}
	}

	confidence := float64(totalEvidence) / confidenceScale
	if confidence > 1 {
		confidence = 1
	}
	return best, confidence, nil
}

// RecommendAdapters scores each candidate adapter by the equal-weight
// combination of keyword affinity and model affinity, returning the top k.
func (s *Service) RecommendAdapters(ctx context.Context, prompt, model string, candidates []string, k int) ([]interfaces.AdapterScore, error) {
	if k <= 0 {
		return nil, nil
	}
	keywords := s.ExtractKeywords(prompt)

	scores := make([]interfaces.AdapterScore, 0, len(candidates))
	for _, a := range candidates {
		keywordScore := prior
		if len(keywords) > 0 {
			sum := 0.0
			for _, kw := range keywords {
				sel, tot := s.statCounts(ctx, models.DimKeywordAdapter, kw, a)
				sum += blended(sel, tot)
			}
			keywordScore = sum / float64(len(keywords))
		}
		sel, tot := s.statCounts(ctx, models.DimModelAdapter, model, a)
		modelScore := blended(sel, tot)

		scores = append(scores, interfaces.AdapterScore{
			Adapter: a,
			Score:   (keywordScore + modelScore) / 2,
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Adapter < scores[j].Adapter
	})
	if len(scores) > k {
		scores = scores[:k]
	}
	return scores, nil
}

func (s *Service) statCounts(ctx context.Context, dim models.StatDimension, a, b string) (int, int) {
	stat, err := s.storage.GetStat(ctx, models.StatKey(dim, a, b))
	if err != nil {
		return 0, 0
	}
	return stat.Selected, stat.Total
}

// Export serializes engine state in the stable versioned format, ordered
// deterministically.
func (s *Service) Export(ctx context.Context) (*models.PreferenceExport, error) {
	records, err := s.storage.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.storage.ListStats(ctx)
	if err != nil {
		return nil, err
	}

	export := &models.PreferenceExport{Version: models.PreferenceExportVersion}
	for _, r := range records {
		export.Records = append(export.Records, *r)
	}
	for _, st := range stats {
		export.Stats = append(export.Stats, *st)
	}
	sort.Slice(export.Records, func(i, j int) bool { return export.Records[i].ID < export.Records[j].ID })
	sort.Slice(export.Stats, func(i, j int) bool { return export.Stats[i].Key < export.Stats[j].Key })
	return export, nil
}

// Import atomically replaces engine state. Anything that fails to decode or
// validate rejects the whole import and leaves current state untouched.
func (s *Service) Import(ctx context.Context, data []byte) error {
	var export models.PreferenceExport
	if err := json.Unmarshal(data, &export); err != nil {
		return models.WrapError(models.ErrCorruptExport, "failed to decode preference export", err)
	}
	if export.Version != models.PreferenceExportVersion {
		return models.Errorf(models.ErrCorruptExport, "unsupported export version %d", export.Version)
	}

	records := make([]*models.PreferenceRecord, 0, len(export.Records))
	for i := range export.Records {
		r := &export.Records[i]
		if r.ID == "" || (r.Action != models.ActionSelected && r.Action != models.ActionRejected) {
			return models.Errorf(models.ErrCorruptExport, "invalid preference record at index %d", i)
		}
		records = append(records, r)
	}
	stats := make([]*models.PreferenceStat, 0, len(export.Stats))
	for i := range export.Stats {
		st := &export.Stats[i]
		if st.Key == "" || st.Total < 0 || st.Selected < 0 || st.Selected > st.Total {
			return models.Errorf(models.ErrCorruptExport, "invalid preference stat at index %d", i)
		}
		if st.Key != models.StatKey(st.Dimension, st.A, st.B) {
			return models.Errorf(models.ErrCorruptExport, "stat key %q does not match its dimension fields", st.Key)
		}
		stats = append(stats, st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.ReplaceAll(ctx, records, stats); err != nil {
		return err
	}
	s.logger.Info().Int("records", len(records)).Int("stats", len(stats)).Msg("Preference state imported")
	return nil
}

// Summary reports aggregate counts plus the most-observed models.
func (s *Service) Summary(ctx context.Context) (*interfaces.PreferenceSummary, error) {
	records, err := s.storage.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.storage.ListStats(ctx)
	if err != nil {
		return nil, err
	}

	summary := &interfaces.PreferenceSummary{
		Records:     len(records),
		Stats:       len(stats),
		ByDimension: make(map[string]int),
	}
	var modelStats []models.PreferenceStat
	for _, st := range stats {
		summary.ByDimension[string(st.Dimension)]++
		if st.Dimension == models.DimModel {
			modelStats = append(modelStats, *st)
		}
	}
	sort.Slice(modelStats, func(i, j int) bool {
		if modelStats[i].Total != modelStats[j].Total {
			return modelStats[i].Total > modelStats[j].Total
		}
		return modelStats[i].Key < modelStats[j].Key
	})
	if len(modelStats) > 5 {
		modelStats = modelStats[:5]
	}
	summary.TopModels = modelStats
	return summary, nil
}
