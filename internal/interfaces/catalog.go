package interfaces

import (
	"context"

	"github.com/ternarybob/easel/internal/models"
)

// CatalogService maintains the per-node model and adapter inventory by
// polling worker asset enumeration on a schedule.
type CatalogService interface {
	// Refresh polls every healthy node once and updates the caches.
	Refresh(ctx context.Context) error

	// Snapshot returns the current catalog state.
	Snapshot() *models.CatalogSnapshot

	// CheckpointsForFamily returns known checkpoints classified under the
	// model family, across all nodes.
	CheckpointsForFamily(family string) []string

	// Adapters returns the union of adapters across all nodes.
	Adapters() []string

	// SuggestAdapters matches adapters to prompt keywords by name overlap.
	SuggestAdapters(prompt string, max int) []models.AdapterSuggestion

	// ClassifyFamily buckets a checkpoint name into a model family by
	// naming convention.
	ClassifyFamily(name string) string
}
