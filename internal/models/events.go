package models

import "encoding/json"

// EventType identifies a normalized downstream event delivered to session
// subscribers.
type EventType string

const (
	EventProgress      EventType = "progress"
	EventComplete      EventType = "complete"
	EventBatchProgress EventType = "batch_progress"
	EventBatchComplete EventType = "batch_complete"
	EventError         EventType = "error"
)

// Critical reports whether the event must never be dropped under
// backpressure. Progress events are droppable; terminal events are not.
func (t EventType) Critical() bool {
	return t != EventProgress && t != EventBatchProgress
}

// Event is the envelope delivered over the per-session subscription.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// ProgressPayload reports sampling progress for one generation.
type ProgressPayload struct {
	GenerationID string `json:"generation_id"`
	CurrentStep  int    `json:"current_step"`
	TotalSteps   int    `json:"total_steps"`
}

// CompletePayload reports a finished generation with its artifact.
type CompletePayload struct {
	GenerationID string `json:"generation_id"`
	ArtifactURL  string `json:"artifact_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Seed         int64  `json:"seed"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	NodeID       string `json:"node_id"`
}

// BatchProgressPayload reports batch completion counts; LatestComplete
// carries the generation that just finished, when one did.
type BatchProgressPayload struct {
	BatchID        string           `json:"batch_id"`
	Completed      int              `json:"completed"`
	Total          int              `json:"total"`
	LatestComplete *CompletePayload `json:"latest_complete,omitempty"`
}

// BatchCompletePayload reports a fully terminal batch.
type BatchCompletePayload struct {
	BatchID   string `json:"batch_id"`
	Total     int    `json:"total"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// ErrorPayload reports a failed generation. Exactly one is emitted per failed
// generation, after which no further events carry its id.
type ErrorPayload struct {
	GenerationID string `json:"generation_id"`
	Message      string `json:"message"`
}

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
