package registry

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// Service is the canonical node inventory. A reader-writer lock keeps
// snapshots consistent across all fields of a node; writers are the health
// prober and the executor's queue-depth bumps.
type Service struct {
	mu       sync.RWMutex
	nodes    map[string]*models.Node
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewService creates an empty registry.
func NewService(logger arbor.ILogger) interfaces.RegistryService {
	return &Service{
		nodes:    make(map[string]*models.Node),
		validate: validator.New(),
		logger:   logger,
	}
}

// inventoryFile is the YAML shape of the declarative node inventory.
type inventoryFile struct {
	Nodes []*models.Node `yaml:"nodes"`
}

// LoadFromFile reads the YAML inventory and replaces the registry contents.
func (s *Service) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.WrapError(models.ErrConfig, "failed to read node inventory", err)
	}

	var inv inventoryFile
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return models.WrapError(models.ErrConfig, "failed to parse node inventory", err)
	}
	if len(inv.Nodes) == 0 {
		return models.NewError(models.ErrConfig, "node inventory is empty")
	}

	return s.Load(inv.Nodes)
}

// Load atomically replaces the inventory. Runtime state carries over for
// node ids that survive the reload.
func (s *Service) Load(nodes []*models.Node) error {
	next := make(map[string]*models.Node, len(nodes))
	for _, n := range nodes {
		if err := s.validate.Struct(n); err != nil {
			return models.WrapError(models.ErrConfig, "invalid node definition", err)
		}
		if !n.Tier.Valid() {
			return models.Errorf(models.ErrConfig, "node %s declares unknown tier %q", n.ID, n.Tier)
		}
		for _, tag := range n.Capabilities {
			if !models.KnownCapabilities[tag] {
				return models.Errorf(models.ErrConfig, "node %s declares unknown capability tag %q", n.ID, tag)
			}
		}
		if _, dup := next[n.ID]; dup {
			return models.Errorf(models.ErrConfig, "duplicate node id %q", n.ID)
		}
		next[n.ID] = n.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.nodes {
		if replacement, ok := next[id]; ok {
			replacement.Healthy = existing.Healthy
			replacement.LatencyMS = existing.LatencyMS
			replacement.QueueDepth = existing.QueueDepth
			replacement.Transitions = existing.Transitions
			replacement.LastTransition = existing.LastTransition
		}
	}
	s.nodes = next

	s.logger.Info().Int("nodes", len(next)).Msg("Node inventory loaded")
	return nil
}

// Get returns a copy of the node or NotFound.
func (s *Service) Get(nodeID string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "node not found: %s", nodeID)
	}
	return node.Clone(), nil
}

// Capable returns copies of nodes declaring the capability tag, in id order.
func (s *Service) Capable(tag string) []*models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Node
	for _, n := range s.nodes {
		if n.HasCapability(tag) {
			result = append(result, n.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Snapshot returns copies of every node, in id order.
func (s *Service) Snapshot() []*models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		result = append(result, n.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// UpdateHealth records a probe result. Health transitions are logged and
// counted; latency updates on every successful probe.
func (s *Service) UpdateHealth(nodeID string, healthy bool, latencyMS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return models.Errorf(models.ErrNotFound, "node not found: %s", nodeID)
	}

	if node.Healthy != healthy {
		node.Transitions++
		node.LastTransition = time.Now()
		if healthy {
			s.logger.Info().Str("node", nodeID).Float64("latency_ms", latencyMS).Msg("Node became healthy")
		} else {
			s.logger.Warn().Str("node", nodeID).Msg("Node became unhealthy")
		}
	}

	node.Healthy = healthy
	if healthy {
		node.LatencyMS = latencyMS
	}
	return nil
}

// BumpQueue adjusts queue depth; depth never drops below zero.
func (s *Service) BumpQueue(nodeID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return models.Errorf(models.ErrNotFound, "node not found: %s", nodeID)
	}

	node.QueueDepth += delta
	if node.QueueDepth < 0 {
		node.QueueDepth = 0
	}
	return nil
}

// HealthyCount returns (healthy, total).
func (s *Service) HealthyCount() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	healthy := 0
	for _, n := range s.nodes {
		if n.Healthy {
			healthy++
		}
	}
	return healthy, len(s.nodes)
}
