package models

import "time"

// GenerationStatus is the lifecycle state of a single generation job.
// Transitions are strictly forward: queued -> dispatched -> running ->
// complete, with failed reachable from any non-terminal state.
type GenerationStatus string

const (
	GenerationQueued     GenerationStatus = "queued"
	GenerationDispatched GenerationStatus = "dispatched"
	GenerationRunning    GenerationStatus = "running"
	GenerationComplete   GenerationStatus = "complete"
	GenerationFailed     GenerationStatus = "failed"
)

var generationOrder = map[GenerationStatus]int{
	GenerationQueued:     0,
	GenerationDispatched: 1,
	GenerationRunning:    2,
	GenerationComplete:   3,
	GenerationFailed:     3,
}

// Terminal reports whether the status is an end state.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationComplete || s == GenerationFailed
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. Terminal states accept nothing.
func (s GenerationStatus) CanTransition(next GenerationStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == GenerationFailed {
		return true
	}
	return generationOrder[next] == generationOrder[s]+1
}

// AdapterSpec names an auxiliary model spliced into the base model's graph at
// load time.
type AdapterSpec struct {
	Name          string  `json:"name" validate:"required"`
	StrengthModel float64 `json:"strength_model"`
	StrengthClip  float64 `json:"strength_clip"`
}

// GenerationParams is the full parameter bundle for one job graph.
type GenerationParams struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Steps         int     `json:"steps"`
	CFGScale      float64 `json:"cfg_scale"`
	Denoise       float64 `json:"denoise"`
	Sampler       string  `json:"sampler"`
	Scheduler     string  `json:"scheduler"`
	Seed          int64   `json:"seed"`
	SourceImageID string  `json:"source_image_id,omitempty"`
}

// Generation is one image job. Identity fields are immutable after creation;
// NodeID is set once at dispatch and WorkerJobID after submission.
type Generation struct {
	ID        string `json:"id" badgerhold:"key"`
	SessionID string `json:"session_id" badgerhold:"index"`
	BatchID   string `json:"batch_id,omitempty" badgerhold:"index"`
	Stage     int    `json:"stage"`

	TaskClass      TaskClass        `json:"task_class"`
	Prompt         string           `json:"prompt"`
	NegativePrompt string           `json:"negative_prompt"`
	ModelFamily    string           `json:"model_family"`
	Checkpoint     string           `json:"checkpoint"`
	Adapters       []AdapterSpec    `json:"adapters,omitempty"`
	Params         GenerationParams `json:"params"`

	NodeID      string           `json:"node_id,omitempty"`
	WorkerJobID string           `json:"worker_job_id,omitempty"`
	Status      GenerationStatus `json:"status" badgerhold:"index"`
	FailReason  string           `json:"fail_reason,omitempty"`

	ArtifactPath  string `json:"artifact_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	FinalSeed     int64  `json:"final_seed,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchStatus is the lifecycle of a batch: open until every member job is
// terminal.
type BatchStatus string

const (
	BatchOpen   BatchStatus = "open"
	BatchClosed BatchStatus = "closed"
)

// Batch is a logically atomic set of generations submitted from a single
// request, sharing prompt and parameters but with distinct seeds.
type Batch struct {
	ID         string         `json:"id" badgerhold:"key"`
	SessionID  string         `json:"session_id" badgerhold:"index"`
	Stage      int            `json:"stage"`
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Allocation map[string]int `json:"allocation"`
	Status     BatchStatus    `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty"`
}
