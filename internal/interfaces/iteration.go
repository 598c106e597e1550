package interfaces

import (
	"context"

	"github.com/ternarybob/easel/internal/models"
)

// RewriteRequest carries the material a prompt rewriter may use.
type RewriteRequest struct {
	Prompt   string
	Negative string
	Feedback string
	Intent   map[string]interface{}
}

// RewriteResult is the rewriter's output. A no-op rewriter returns the
// inputs unchanged with a boilerplate rationale.
type RewriteResult struct {
	Prompt    string
	Negative  string
	Rationale string
}

// Rewriter is the pluggable prompt-rewriting seam.
type Rewriter interface {
	Rewrite(ctx context.Context, req RewriteRequest) (RewriteResult, error)
}

// IterationService drives the per-session stage funnel and routes feedback
// into the preference engine.
type IterationService interface {
	// OnSubmit moves configuring -> generating.
	OnSubmit(ctx context.Context, sessionID string) error

	// OnBatchComplete moves generating -> reviewing.
	OnBatchComplete(ctx context.Context, sessionID string) error

	// Feedback ingests select / more-like-this feedback and returns the
	// next-stage plan. Select advances the stage; at the terminal stage the
	// session moves to done.
	Feedback(ctx context.Context, req *models.FeedbackRequest) (*models.IterationPlan, error)

	// RejectAll records every listed generation as rejected without
	// advancing the stage.
	RejectAll(ctx context.Context, req *models.RejectAllRequest) error
}
