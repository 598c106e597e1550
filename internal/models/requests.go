package models

// API request and response bodies for the downstream HTTP surface.
// Validation tags are enforced by the handlers before any service call.

// CreateSessionRequest starts a new workflow session.
type CreateSessionRequest struct {
	FlowKind      FlowKind               `json:"flow_kind" validate:"required"`
	InitialConfig map[string]interface{} `json:"initial_config,omitempty"`
}

// GenerateRequest is the single-image generation body.
type GenerateRequest struct {
	SessionID      string        `json:"session_id" validate:"required"`
	Prompt         string        `json:"prompt" validate:"required"`
	NegativePrompt string        `json:"negative_prompt"`
	ModelFamily    string        `json:"model_family" validate:"required"`
	TaskClass      TaskClass     `json:"task_class" validate:"required"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	Steps          int           `json:"steps"`
	CFGScale       float64       `json:"cfg_scale"`
	Denoise        float64       `json:"denoise"`
	Sampler        string        `json:"sampler"`
	Scheduler      string        `json:"scheduler"`
	Seed           int64         `json:"seed"`
	SourceImageID  string        `json:"source_image_id,omitempty"`
	Checkpoint     string        `json:"checkpoint,omitempty"`
	Adapters       []AdapterSpec `json:"adapters,omitempty"`
	PreferredNode  string        `json:"preferred_node,omitempty"`
}

// BatchGenerateRequest extends the single-image body with batch controls.
type BatchGenerateRequest struct {
	GenerateRequest
	Count         int   `json:"count" validate:"required,gt=0"`
	SeedStart     int64 `json:"seed_start"`
	ExploreModels bool  `json:"explore_models"`
	AutoAdapters  bool  `json:"auto_adapters"`
}

// FeedbackRequest carries stage feedback into the iteration controller.
type FeedbackRequest struct {
	SessionID            string                 `json:"session_id" validate:"required"`
	SelectedIDs          []string               `json:"selected_ids,omitempty"`
	RejectedIDs          []string               `json:"rejected_ids,omitempty"`
	Action               FeedbackAction         `json:"action" validate:"required"`
	FeedbackText         string                 `json:"feedback_text,omitempty"`
	ParameterAdjustments map[string]interface{} `json:"parameter_adjustments,omitempty"`
}

// RejectAllRequest rejects every generation in a stage without advancing.
type RejectAllRequest struct {
	SessionID    string   `json:"session_id" validate:"required"`
	Stage        int      `json:"stage"`
	RejectedIDs  []string `json:"rejected_ids" validate:"required,min=1"`
	FeedbackText string   `json:"feedback_text,omitempty"`
}

// FeedbackAction is the user's verdict on a review stage.
type FeedbackAction string

const (
	FeedbackSelect       FeedbackAction = "select"
	FeedbackRejectAll    FeedbackAction = "reject_all"
	FeedbackMoreLikeThis FeedbackAction = "more_like_this"
)

// Valid reports whether the action is one of the known values.
func (a FeedbackAction) Valid() bool {
	switch a {
	case FeedbackSelect, FeedbackRejectAll, FeedbackMoreLikeThis:
		return true
	}
	return false
}

// GenerateResponse acknowledges a dispatched single-image request.
type GenerateResponse struct {
	ID     string           `json:"id"`
	Status GenerationStatus `json:"status"`
	NodeID string           `json:"node_id"`
}

// BatchGenerateResponse acknowledges a dispatched batch.
type BatchGenerateResponse struct {
	BatchID    string         `json:"batch_id"`
	TotalCount int            `json:"total_count"`
	Allocation map[string]int `json:"allocation"`
}

// IterationPlan is the controller's next-stage plan returned from feedback.
type IterationPlan struct {
	SuggestedPrompt   string                 `json:"suggested_prompt"`
	SuggestedNegative string                 `json:"suggested_negative"`
	Parameters        map[string]interface{} `json:"parameters"`
	TaskClass         TaskClass              `json:"task_class"`
	ModelFamily       string                 `json:"model_family"`
	UseImg2Img        bool                   `json:"use_img2img"`
	SourceImageID     string                 `json:"source_image_id,omitempty"`
	Denoise           float64                `json:"denoise"`
	Count             int                    `json:"count"`
	Rationale         string                 `json:"rationale"`
}

// RecommendationResponse is the model recommendation result.
type RecommendationResponse struct {
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
}
