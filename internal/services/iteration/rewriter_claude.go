package iteration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
)

const rewriteSystemPrompt = `You refine image generation prompts between iteration rounds.
Given the current prompt, negative prompt, accumulated intent and the user's feedback,
produce an improved prompt that incorporates the feedback while preserving the user's intent.
Respond with JSON only: {"prompt": "...", "negative": "...", "rationale": "..."}`

// ClaudeRewriter refines prompts through the Anthropic API. Failures degrade
// to the pass-through result so feedback handling never depends on the API
// being reachable.
type ClaudeRewriter struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	logger  arbor.ILogger
}

// NewClaudeRewriter creates the Claude-backed rewriter.
func NewClaudeRewriter(apiKey, model string, timeout time.Duration, logger arbor.ILogger) interfaces.Rewriter {
	if model == "" {
		model = "claude-haiku-4-5"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClaudeRewriter{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

type rewriteReply struct {
	Prompt    string `json:"prompt"`
	Negative  string `json:"negative"`
	Rationale string `json:"rationale"`
}

func (r *ClaudeRewriter) Rewrite(ctx context.Context, req interfaces.RewriteRequest) (interfaces.RewriteResult, error) {
	fallback := interfaces.RewriteResult{
		Prompt:    req.Prompt,
		Negative:  req.Negative,
		Rationale: "Prompt carried forward unchanged.",
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: rewriteSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(r.userMessage(req))),
		},
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("Prompt rewrite failed; using original prompt")
		return fallback, nil
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	var reply rewriteReply
	if err := json.Unmarshal([]byte(extractJSON(text.String())), &reply); err != nil || reply.Prompt == "" {
		r.logger.Warn().Err(err).Msg("Prompt rewrite returned unusable output; using original prompt")
		return fallback, nil
	}

	return interfaces.RewriteResult{
		Prompt:    reply.Prompt,
		Negative:  reply.Negative,
		Rationale: reply.Rationale,
	}, nil
}

func (r *ClaudeRewriter) userMessage(req interfaces.RewriteRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current prompt: %s\n", req.Prompt)
	if req.Negative != "" {
		fmt.Fprintf(&b, "Current negative prompt: %s\n", req.Negative)
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "User feedback: %s\n", req.Feedback)
	}
	if len(req.Intent) > 0 {
		if intent, err := json.Marshal(req.Intent); err == nil {
			fmt.Fprintf(&b, "Accumulated intent: %s\n", intent)
		}
	}
	return b.String()
}

// extractJSON strips any prose or code fences around the JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
