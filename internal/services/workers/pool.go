package workers

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// Pool owns one Client per inventory node. Clients are created once at
// startup; the inventory is static for the life of the process.
type Pool struct {
	clients map[string]*Client
	logger  arbor.ILogger
}

// NewPool builds a client per node and opens each event subscription,
// feeding decoded events into the sink.
func NewPool(nodes []*models.Node, timeouts Timeouts, sink func(interfaces.WorkerEvent), logger arbor.ILogger) *Pool {
	p := &Pool{
		clients: make(map[string]*Client, len(nodes)),
		logger:  logger,
	}
	for _, node := range nodes {
		client := NewClient(node, timeouts, logger)
		client.Start(sink)
		p.clients[node.ID] = client
	}
	logger.Info().Int("clients", len(p.clients)).Msg("Worker client pool ready")
	return p
}

// Get returns the client for a node id.
func (p *Pool) Get(nodeID string) (interfaces.WorkerClient, error) {
	client, ok := p.clients[nodeID]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "no worker client for node %s", nodeID)
	}
	return client, nil
}

// All returns every client in the pool.
func (p *Pool) All() []interfaces.WorkerClient {
	result := make([]interfaces.WorkerClient, 0, len(p.clients))
	for _, c := range p.clients {
		result = append(result, c)
	}
	return result
}

// Close stops all event listeners.
func (p *Pool) Close() error {
	for _, c := range p.clients {
		c.Close()
	}
	p.logger.Info().Msg("Worker client pool closed")
	return nil
}
