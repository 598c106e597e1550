package iteration

import (
	"context"

	"github.com/ternarybob/easel/internal/interfaces"
)

// NoopRewriter passes prompts through unchanged. It is the default when no
// rewriter backend is configured.
type NoopRewriter struct{}

// NewNoopRewriter creates the pass-through rewriter.
func NewNoopRewriter() interfaces.Rewriter {
	return &NoopRewriter{}
}

func (r *NoopRewriter) Rewrite(_ context.Context, req interfaces.RewriteRequest) (interfaces.RewriteResult, error) {
	return interfaces.RewriteResult{
		Prompt:    req.Prompt,
		Negative:  req.Negative,
		Rationale: "Prompt carried forward unchanged.",
	}, nil
}
