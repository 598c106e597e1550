package models

import "time"

// FlowKind tags the workflow a session runs through.
type FlowKind string

const (
	FlowConceptBuilder FlowKind = "concept_builder"
	FlowDraftGrid      FlowKind = "draft_grid"
	FlowExplorer       FlowKind = "explorer"
)

// Valid reports whether the flow kind is one of the known values.
func (f FlowKind) Valid() bool {
	switch f {
	case FlowConceptBuilder, FlowDraftGrid, FlowExplorer:
		return true
	}
	return false
}

// StageState is the iteration controller's per-session state machine:
// configuring -> generating -> reviewing -> generating | done.
type StageState string

const (
	StageConfiguring StageState = "configuring"
	StageGenerating  StageState = "generating"
	StageReviewing   StageState = "reviewing"
	StageDone        StageState = "done"
)

// Session is a user-facing workflow run consisting of ordered stages with
// feedback between them. Intent accumulates free-form configuration across
// stages.
type Session struct {
	ID           string                 `json:"id" badgerhold:"key"`
	FlowKind     FlowKind               `json:"flow_kind"`
	Stage        int                    `json:"current_stage"`
	State        StageState             `json:"state"`
	Intent       map[string]interface{} `json:"intent,omitempty"`
	LastFeedback string                 `json:"last_feedback,omitempty"`
	Cancelled    bool                   `json:"cancelled"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}
