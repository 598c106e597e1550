package models

import "time"

// PreferenceAction is the outcome recorded against a generation.
type PreferenceAction string

const (
	ActionSelected PreferenceAction = "selected"
	ActionRejected PreferenceAction = "rejected"
)

// StatDimension identifies which pair of identifiers a statistic aggregates.
type StatDimension string

const (
	DimKeywordModel   StatDimension = "keyword_model"
	DimKeywordAdapter StatDimension = "keyword_adapter"
	DimModelAdapter   StatDimension = "model_adapter"
	DimModel          StatDimension = "model"
)

// PreferenceRecord is one immutable selection/rejection event. Records are
// append-only; statistics are recomputable from them.
type PreferenceRecord struct {
	ID        string           `json:"id" badgerhold:"key"`
	SessionID string           `json:"session_id" badgerhold:"index"`
	Stage     int              `json:"stage"`
	Keywords  []string         `json:"keywords"`
	Model     string           `json:"model"`
	Adapters  []string         `json:"adapters,omitempty"`
	Action    PreferenceAction `json:"action"`
	Feedback  string           `json:"feedback,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// PreferenceStat is one materialized counter pair under a dimension key.
// Total is monotone non-decreasing; Selected never exceeds Total.
type PreferenceStat struct {
	Key       string        `json:"key" badgerhold:"key"`
	Dimension StatDimension `json:"dimension" badgerhold:"index"`
	A         string        `json:"a"`
	B         string        `json:"b,omitempty"`
	Selected  int           `json:"selected"`
	Total     int           `json:"total"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatKey builds the storage key for a dimension and its identifier pair.
func StatKey(dim StatDimension, a, b string) string {
	if b == "" {
		return string(dim) + "|" + a
	}
	return string(dim) + "|" + a + "|" + b
}

// PreferenceExport is the stable round-trip format for engine state.
type PreferenceExport struct {
	Version int                `json:"version"`
	Records []PreferenceRecord `json:"records"`
	Stats   []PreferenceStat   `json:"stats"`
}

// PreferenceExportVersion is the current export format version.
const PreferenceExportVersion = 1
