package interfaces

import (
	"context"

	"github.com/ternarybob/easel/internal/models"
)

// AdapterScore pairs an adapter with its blended preference score.
type AdapterScore struct {
	Adapter string  `json:"adapter"`
	Score   float64 `json:"score"`
}

// PreferenceSummary is the aggregate view exposed over the API.
type PreferenceSummary struct {
	Records     int                     `json:"records"`
	Stats       int                     `json:"stats"`
	ByDimension map[string]int          `json:"by_dimension"`
	TopModels   []models.PreferenceStat `json:"top_models"`
}

// PreferenceService learns which models and adapters tend to be selected for
// which kinds of prompt. Recommendation is a pure function of current stats.
type PreferenceService interface {
	// ExtractKeywords tokenizes, lowercases, stop-words and length-filters
	// a prompt into its keyword set.
	ExtractKeywords(prompt string) []string

	// Record appends a preference record and updates every derived stat
	// dimension. Total counts only ever grow.
	Record(ctx context.Context, prompt, model string, adapters []string, action models.PreferenceAction, stage int, sessionID, feedback string) error

	// RecommendModel scores each candidate for the prompt and returns the
	// argmax with the accumulated-evidence confidence. With an empty
	// keyword set it returns the first candidate with confidence 0.
	RecommendModel(ctx context.Context, prompt string, candidates []string) (string, float64, error)

	// RecommendAdapters returns the top k adapters for (prompt, model) by
	// equal-weight combination of keyword and model affinity.
	RecommendAdapters(ctx context.Context, prompt, model string, candidates []string, k int) ([]AdapterScore, error)

	// Export serializes engine state in the stable versioned format.
	Export(ctx context.Context) (*models.PreferenceExport, error)

	// Import atomically replaces engine state. Partially-decoded input is
	// rejected with CorruptExport and leaves current state untouched.
	Import(ctx context.Context, data []byte) error

	// Summary reports aggregate counts.
	Summary(ctx context.Context) (*PreferenceSummary, error)
}
