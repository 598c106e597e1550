package interfaces

import (
	"context"

	"github.com/ternarybob/easel/internal/models"
)

// WorkerEventType identifies upstream event stream message kinds. Unknown
// kinds are discarded by the client.
type WorkerEventType string

const (
	WorkerEventProgress WorkerEventType = "progress"
	WorkerEventExecuted WorkerEventType = "executed"
	WorkerEventStatus   WorkerEventType = "status"
)

// WorkerEvent is one decoded message from a node's event stream.
type WorkerEvent struct {
	Type           WorkerEventType
	NodeID         string
	WorkerJobID    string
	Value          int
	Max            int
	Outputs        []string
	QueueRemaining int
}

// JobOutputs is the terminal result reported by a worker's history endpoint.
type JobOutputs struct {
	Filenames []string
}

// AssetEnumeration is the structured description of loadable models a worker
// reports.
type AssetEnumeration struct {
	Checkpoints []string
	Adapters    []string
	Upscalers   []string
	VAEs        []string
}

// WorkerClient is the per-node persistent handle. All blocking operations
// observe the context deadline in addition to the client's own timeouts.
type WorkerClient interface {
	NodeID() string

	// Submit posts a job graph; returns the worker-side job id. Failures are
	// TransportError or RejectedByWorker.
	Submit(ctx context.Context, graph models.WorkflowGraph) (string, error)

	// PollUntilComplete polls the history endpoint at a bounded interval
	// until the worker reports completion or the job deadline elapses
	// (Timeout). Cancellation fails with Cancelled.
	PollUntilComplete(ctx context.Context, workerJobID string) (*JobOutputs, error)

	// FetchArtifact retrieves raw artifact bytes by filename.
	FetchArtifact(ctx context.Context, filename string) ([]byte, error)

	// ListAssets queries the worker for available models and adapters.
	ListAssets(ctx context.Context) (*AssetEnumeration, error)

	// Probe performs one cheap status check; returns round-trip millis.
	Probe(ctx context.Context) (float64, error)

	// Start opens the long-lived event subscription with internal
	// reconnection. Decoded events are delivered to the sink until Close.
	Start(sink func(WorkerEvent))

	Close() error
}

// ClientPool owns one WorkerClient per registry node.
type ClientPool interface {
	Get(nodeID string) (WorkerClient, error)
	All() []WorkerClient
	Close() error
}
