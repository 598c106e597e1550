package interfaces

import "github.com/ternarybob/easel/internal/models"

// Subscriber is one downstream consumer of a session's event feed. The
// channel is bounded; under pressure the aggregator drops the oldest
// droppable event rather than blocking.
type Subscriber interface {
	Events() <-chan models.Event
	Close()
}

// AggregatorService fans worker events in from all clients and out to
// per-session subscribers, correlating worker job ids to generations.
type AggregatorService interface {
	// Register inserts a correlation at dispatch time. A worker job id maps
	// to at most one generation over the process lifetime.
	Register(workerJobID, generationID, sessionID string)

	// Deregister removes a correlation on terminal event.
	Deregister(workerJobID string)

	// Lookup resolves a worker job id to (generation id, session id).
	Lookup(workerJobID string) (string, string, bool)

	// Subscribe attaches a new subscriber to a session.
	Subscribe(sessionID string) Subscriber

	// Unsubscribe detaches a subscriber.
	Unsubscribe(sessionID string, sub Subscriber)

	// Publish sends a normalized event to every subscriber of the session.
	Publish(sessionID string, event models.Event)

	// HandleWorkerEvent is the fan-in sink wired into every WorkerClient.
	HandleWorkerEvent(ev WorkerEvent)

	Close() error
}
