package interfaces

import "github.com/ternarybob/easel/internal/models"

// RegistryService is the canonical source of truth for node inventory and
// runtime health. Readers see consistent per-node views; writers are the
// health prober (health, latency) and the executor (queue depth).
type RegistryService interface {
	// Load atomically replaces the inventory. Returns a ConfigError when a
	// node lacks required fields or declares unknown capability tags.
	Load(nodes []*models.Node) error

	// LoadFromFile reads the YAML inventory file and calls Load.
	LoadFromFile(path string) error

	// Get returns the node or a NotFound error.
	Get(nodeID string) (*models.Node, error)

	// Capable returns the subset of nodes declaring the capability tag.
	Capable(tag string) []*models.Node

	// Snapshot returns an immutable copy of all nodes and their runtime state.
	Snapshot() []*models.Node

	// UpdateHealth is called by the prober; atomic with respect to Snapshot.
	UpdateHealth(nodeID string, healthy bool, latencyMS float64) error

	// BumpQueue adjusts a node's queue depth; delta is +1 or -1.
	BumpQueue(nodeID string, delta int) error

	// HealthyCount returns (healthy, total).
	HealthyCount() (int, int)
}

// HealthProber keeps registry health state current.
type HealthProber interface {
	Start()
	Stop()
}
