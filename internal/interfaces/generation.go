package interfaces

import (
	"context"

	"github.com/ternarybob/easel/internal/models"
)

// ExecutorService orchestrates single-image and batch generation.
type ExecutorService interface {
	// Generate runs the single-image path: route, build, submit, correlate,
	// then drive the job to a terminal state in the background.
	Generate(ctx context.Context, req *models.GenerateRequest) (*models.Generation, error)

	// GenerateBatch allocates a batch across the router's candidate list and
	// runs each member through the single-image path with distinct seeds.
	GenerateBatch(ctx context.Context, req *models.BatchGenerateRequest) (*models.Batch, error)

	// CancelSession cancels every in-flight job belonging to the session.
	CancelSession(sessionID string)

	// SweepStale fails jobs stuck non-terminal past twice the job timeout.
	SweepStale(ctx context.Context) int
}
