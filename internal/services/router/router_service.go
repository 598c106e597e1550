package router

import (
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// Service places tasks on nodes from live registry snapshots. Ordering is
// fully deterministic so identical cluster state always yields identical
// placement.
type Service struct {
	registry          interfaces.RegistryService
	overflowThreshold int
	logger            arbor.ILogger
}

// NewService creates a router. overflowThreshold is the queue depth above
// which the head candidate is skipped in favor of a less-loaded node.
func NewService(registry interfaces.RegistryService, overflowThreshold int, logger arbor.ILogger) interfaces.RouterService {
	if overflowThreshold <= 0 {
		overflowThreshold = 3
	}
	return &Service{
		registry:          registry,
		overflowThreshold: overflowThreshold,
		logger:            logger,
	}
}

// Candidates returns the ordered candidate list for a task.
//
// Quality-class tasks prefer higher tiers; everything else prefers lower
// tiers to keep high-end capacity free. Queue depth is the secondary key and
// node id breaks ties. A healthy, capable preferred node is pinned to the
// head and exempt from the overflow rule.
func (s *Service) Candidates(taskClass models.TaskClass, modelFamily string, preferredNode string) ([]*models.Node, error) {
	capability := taskClass.RequiredCapability(modelFamily)

	var candidates []*models.Node
	for _, n := range s.registry.Capable(capability) {
		if n.Healthy {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil, models.Errorf(models.ErrNoCapableNode, "no healthy node with capability %q", capability)
	}

	qualityClass := taskClass.QualityClass()
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Tier.Rank() != b.Tier.Rank() {
			if qualityClass {
				return a.Tier.Rank() > b.Tier.Rank()
			}
			return a.Tier.Rank() < b.Tier.Rank()
		}
		if a.QueueDepth != b.QueueDepth {
			return a.QueueDepth < b.QueueDepth
		}
		return a.ID < b.ID
	})

	if preferredNode != "" {
		for i, n := range candidates {
			if n.ID == preferredNode {
				promoted := candidates[i]
				copy(candidates[1:i+1], candidates[:i])
				candidates[0] = promoted
				return candidates, nil
			}
		}
		// Unknown, unhealthy, or incapable preferred nodes are ignored.
		s.logger.Debug().Str("node", preferredNode).Msg("Preferred node not eligible; falling back to ranked order")
	}

	s.applyOverflow(candidates)
	return candidates, nil
}

// applyOverflow promotes the first under-threshold candidate when the head
// is over the threshold. If every candidate is over, ordering stands and the
// head's worker queues internally.
func (s *Service) applyOverflow(candidates []*models.Node) {
	if len(candidates) < 2 || candidates[0].QueueDepth <= s.overflowThreshold {
		return
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].QueueDepth < s.overflowThreshold {
			promoted := candidates[i]
			copy(candidates[1:i+1], candidates[:i])
			candidates[0] = promoted
			s.logger.Debug().Str("node", promoted.ID).Int("queue_depth", promoted.QueueDepth).Msg("Overflow promotion")
			return
		}
	}
}

// PickOne returns the head of the candidate list.
func (s *Service) PickOne(taskClass models.TaskClass, modelFamily string, preferredNode string) (*models.Node, error) {
	candidates, err := s.Candidates(taskClass, modelFamily, preferredNode)
	if err != nil {
		return nil, err
	}
	return candidates[0], nil
}

// Allocate divides total across candidates in order: floor(total/K) each,
// remainder one extra to the first candidates. Keys are node ids.
func (s *Service) Allocate(candidates []*models.Node, total int) map[string]int {
	allocation := make(map[string]int, len(candidates))
	if len(candidates) == 0 || total <= 0 {
		return allocation
	}

	base := total / len(candidates)
	remainder := total % len(candidates)
	for i, n := range candidates {
		count := base
		if i < remainder {
			count++
		}
		if count > 0 {
			allocation[n.ID] = count
		}
	}
	return allocation
}
