package models

import "time"

// AssetKind distinguishes the loadable asset classes a worker enumerates.
type AssetKind string

const (
	AssetCheckpoint AssetKind = "checkpoint"
	AssetAdapter    AssetKind = "adapter"
	AssetUpscaler   AssetKind = "upscaler"
	AssetVAE        AssetKind = "vae"
)

// AssetInfo describes one model file known to the catalog, with the set of
// nodes it is available on.
type AssetInfo struct {
	Name        string    `json:"name"`
	Kind        AssetKind `json:"kind"`
	Family      string    `json:"family,omitempty"`
	AvailableOn []string  `json:"available_on"`
}

// AdapterSuggestion is a prompt-matched adapter with a relevance score and a
// derived strength.
type AdapterSuggestion struct {
	Name            string   `json:"name"`
	Relevance       float64  `json:"relevance"`
	Strength        float64  `json:"strength"`
	MatchedKeywords []string `json:"matched_keywords"`
}

// CatalogSnapshot is the catalog state exposed over the API.
type CatalogSnapshot struct {
	Checkpoints []AssetInfo          `json:"checkpoints"`
	Adapters    []AssetInfo          `json:"adapters"`
	PerNode     map[string]NodeAsset `json:"per_node"`
	RefreshedAt time.Time            `json:"refreshed_at"`
}

// NodeAsset is the per-node asset inventory.
type NodeAsset struct {
	Checkpoints []string  `json:"checkpoints"`
	Adapters    []string  `json:"adapters"`
	PolledAt    time.Time `json:"polled_at"`
}
