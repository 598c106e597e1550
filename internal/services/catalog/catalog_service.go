package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// Service maintains the per-node model and adapter inventory. Refresh polls
// every healthy node's asset enumeration; reads serve from the last good
// snapshot, so a node outage never empties the catalog.
type Service struct {
	registry    interfaces.RegistryService
	pool        interfaces.ClientPool
	preferences interfaces.PreferenceService
	logger      arbor.ILogger

	mu      sync.RWMutex
	perNode map[string]models.NodeAsset
	polled  time.Time
}

// NewService creates a catalog over the registry and client pool.
func NewService(registry interfaces.RegistryService, pool interfaces.ClientPool, preferences interfaces.PreferenceService, logger arbor.ILogger) interfaces.CatalogService {
	return &Service{
		registry:    registry,
		pool:        pool,
		preferences: preferences,
		logger:      logger,
		perNode:     make(map[string]models.NodeAsset),
	}
}

// Refresh polls every healthy node once. Per-node failures are logged and
// the node's previous inventory is kept.
func (s *Service) Refresh(ctx context.Context) error {
	polled := 0
	for _, node := range s.registry.Snapshot() {
		if !node.Healthy {
			continue
		}
		client, err := s.pool.Get(node.ID)
		if err != nil {
			continue
		}

		assets, err := client.ListAssets(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("node", node.ID).Msg("Asset enumeration failed; keeping previous inventory")
			continue
		}

		s.mu.Lock()
		s.perNode[node.ID] = models.NodeAsset{
			Checkpoints: assets.Checkpoints,
			Adapters:    assets.Adapters,
			PolledAt:    time.Now(),
		}
		s.mu.Unlock()
		polled++
	}

	s.mu.Lock()
	s.polled = time.Now()
	s.mu.Unlock()

	s.logger.Info().Int("nodes", polled).Msg("Model catalog refreshed")
	return nil
}

// Snapshot returns the current catalog state with union views.
func (s *Service) Snapshot() *models.CatalogSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoints := make(map[string][]string)
	adapters := make(map[string][]string)
	perNode := make(map[string]models.NodeAsset, len(s.perNode))
	for nodeID, inv := range s.perNode {
		perNode[nodeID] = inv
		for _, c := range inv.Checkpoints {
			checkpoints[c] = append(checkpoints[c], nodeID)
		}
		for _, a := range inv.Adapters {
			adapters[a] = append(adapters[a], nodeID)
		}
	}

	snap := &models.CatalogSnapshot{PerNode: perNode, RefreshedAt: s.polled}
	for name, nodes := range checkpoints {
		sort.Strings(nodes)
		snap.Checkpoints = append(snap.Checkpoints, models.AssetInfo{
			Name:        name,
			Kind:        models.AssetCheckpoint,
			Family:      s.ClassifyFamily(name),
			AvailableOn: nodes,
		})
	}
	for name, nodes := range adapters {
		sort.Strings(nodes)
		snap.Adapters = append(snap.Adapters, models.AssetInfo{
			Name:        name,
			Kind:        models.AssetAdapter,
			AvailableOn: nodes,
		})
	}
	sort.Slice(snap.Checkpoints, func(i, j int) bool { return snap.Checkpoints[i].Name < snap.Checkpoints[j].Name })
	sort.Slice(snap.Adapters, func(i, j int) bool { return snap.Adapters[i].Name < snap.Adapters[j].Name })
	return snap
}

// CheckpointsForFamily returns known checkpoints under the family, sorted.
func (s *Service) CheckpointsForFamily(family string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var result []string
	for _, inv := range s.perNode {
		for _, c := range inv.Checkpoints {
			if !seen[c] && s.ClassifyFamily(c) == family {
				seen[c] = true
				result = append(result, c)
			}
		}
	}
	sort.Strings(result)
	return result
}

// Adapters returns the union of adapters across all nodes, sorted.
func (s *Service) Adapters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var result []string
	for _, inv := range s.perNode {
		for _, a := range inv.Adapters {
			if !seen[a] {
				seen[a] = true
				result = append(result, a)
			}
		}
	}
	sort.Strings(result)
	return result
}

// SuggestAdapters matches prompt keywords against adapter names. Relevance
// is the matched fraction of the prompt's keywords; suggested strength grows
// with relevance from 0.5 to 0.8.
func (s *Service) SuggestAdapters(prompt string, max int) []models.AdapterSuggestion {
	keywords := s.preferences.ExtractKeywords(prompt)
	if len(keywords) == 0 || max <= 0 {
		return nil
	}

	var suggestions []models.AdapterSuggestion
	for _, adapter := range s.Adapters() {
		name := strings.ToLower(adapter)
		var matched []string
		for _, k := range keywords {
			if strings.Contains(name, k) {
				matched = append(matched, k)
			}
		}
		if len(matched) == 0 {
			continue
		}
		relevance := float64(len(matched)) / float64(len(keywords))
		suggestions = append(suggestions, models.AdapterSuggestion{
			Name:            adapter,
			Relevance:       relevance,
			Strength:        0.5 + relevance*0.3,
			MatchedKeywords: matched,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Relevance != suggestions[j].Relevance {
			return suggestions[i].Relevance > suggestions[j].Relevance
		}
		return suggestions[i].Name < suggestions[j].Name
	})
	if len(suggestions) > max {
		suggestions = suggestions[:max]
	}
	return suggestions
}

// ClassifyFamily buckets a checkpoint name into a model family by naming
// convention. Anything unrecognized defaults to sdxl.
func (s *Service) ClassifyFamily(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "flux"):
		return models.CapFlux
	case strings.Contains(lower, "xl"), strings.Contains(lower, "pony"):
		return models.CapSDXL
	case strings.Contains(lower, "v1-5"), strings.Contains(lower, "sd15"), strings.Contains(lower, "1.5"):
		return models.CapSD15
	}
	return models.CapSDXL
}
