package models

import (
	"fmt"
	"time"
)

// Tier is the coarse capability ranking of a GPU node.
// Ordering: draft < standard < quality < premium.
type Tier string

const (
	TierDraft    Tier = "draft"
	TierStandard Tier = "standard"
	TierQuality  Tier = "quality"
	TierPremium  Tier = "premium"
)

var tierRanks = map[Tier]int{
	TierDraft:    0,
	TierStandard: 1,
	TierQuality:  2,
	TierPremium:  3,
}

// Rank returns the ordinal position of the tier. Unknown tiers rank lowest.
func (t Tier) Rank() int {
	return tierRanks[t]
}

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// Capability tags a node may declare. The vocabulary is fixed; Registry.Load
// rejects inventories declaring anything else.
const (
	CapSD15    = "sd15"
	CapSDXL    = "sdxl"
	CapFluxFP8 = "flux_fp8"
	CapFlux    = "flux"
	CapUpscale = "upscale"
)

// KnownCapabilities is the closed set of capability tags.
var KnownCapabilities = map[string]bool{
	CapSD15:    true,
	CapSDXL:    true,
	CapFluxFP8: true,
	CapFlux:    true,
	CapUpscale: true,
}

// TaskClass selects the routing policy and required capability for a request.
type TaskClass string

const (
	TaskDraft       TaskClass = "draft"
	TaskStandard    TaskClass = "standard"
	TaskQuality     TaskClass = "quality"
	TaskUpscale     TaskClass = "upscale"
	TaskFlux        TaskClass = "flux"
	TaskFluxQuality TaskClass = "flux_quality"
)

// QualityClass reports whether the task class routes toward higher tiers
// first. Draft and standard tasks prefer lower tiers to preserve high-end
// capacity.
func (tc TaskClass) QualityClass() bool {
	switch tc {
	case TaskQuality, TaskUpscale, TaskFluxQuality:
		return true
	}
	return false
}

// Valid reports whether the task class is one of the known values.
func (tc TaskClass) Valid() bool {
	switch tc {
	case TaskDraft, TaskStandard, TaskQuality, TaskUpscale, TaskFlux, TaskFluxQuality:
		return true
	}
	return false
}

// RequiredCapability derives the capability tag a node must declare to run a
// task of this class with the given model family. Upscale tasks need the
// upscale tag regardless of family.
func (tc TaskClass) RequiredCapability(modelFamily string) string {
	if tc == TaskUpscale {
		return CapUpscale
	}
	return modelFamily
}

// Node is one GPU worker in the inventory. Static fields come from the node
// inventory file; runtime fields are mutated only by the health prober
// (Healthy, LatencyMS, Transitions) and the executor (QueueDepth).
type Node struct {
	ID            string   `json:"id" yaml:"id" validate:"required"`
	Name          string   `json:"name" yaml:"name" validate:"required"`
	Tier          Tier     `json:"tier" yaml:"tier" validate:"required"`
	VRAMGB        int      `json:"vram_gb" yaml:"vram_gb"`
	Host          string   `json:"host" yaml:"host" validate:"required"`
	Port          int      `json:"port" yaml:"port" validate:"required,gt=0"`
	Capabilities  []string `json:"capabilities" yaml:"capabilities" validate:"required,min=1"`
	MaxResolution int      `json:"max_resolution" yaml:"max_resolution"`
	MaxBatch      int      `json:"max_batch" yaml:"max_batch"`

	// Runtime state.
	Healthy        bool      `json:"healthy" yaml:"-"`
	LatencyMS      float64   `json:"latency_ms" yaml:"-"`
	QueueDepth     int       `json:"queue_depth" yaml:"-"`
	Transitions    int       `json:"transitions" yaml:"-"`
	LastTransition time.Time `json:"last_transition,omitempty" yaml:"-"`
}

// BaseURL returns the node's HTTP endpoint.
func (n *Node) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", n.Host, n.Port)
}

// WSURL returns the node's event stream endpoint.
func (n *Node) WSURL(clientID string) string {
	return fmt.Sprintf("ws://%s:%d/ws?clientId=%s", n.Host, n.Port, clientID)
}

// HasCapability reports whether the node declares the given tag.
func (n *Node) HasCapability(tag string) bool {
	for _, c := range n.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the node, used for snapshots.
func (n *Node) Clone() *Node {
	cp := *n
	cp.Capabilities = append([]string(nil), n.Capabilities...)
	return &cp
}
