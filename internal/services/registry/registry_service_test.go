package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/models"
)

func validNode(id string) *models.Node {
	return &models.Node{
		ID:           id,
		Name:         id,
		Tier:         models.TierStandard,
		Host:         "127.0.0.1",
		Port:         8188,
		Capabilities: []string{models.CapSDXL},
	}
}

func TestLoad_Validation(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	t.Run("Rejects unknown tier", func(t *testing.T) {
		n := validNode("alpha")
		n.Tier = "ultra"
		err := svc.Load([]*models.Node{n})
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrConfig))
	})

	t.Run("Rejects unknown capability tag", func(t *testing.T) {
		n := validNode("alpha")
		n.Capabilities = []string{"sd99"}
		err := svc.Load([]*models.Node{n})
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrConfig))
	})

	t.Run("Rejects duplicate node ids", func(t *testing.T) {
		err := svc.Load([]*models.Node{validNode("alpha"), validNode("alpha")})
		require.Error(t, err)
	})

	t.Run("Rejects missing required fields", func(t *testing.T) {
		n := validNode("alpha")
		n.Host = ""
		err := svc.Load([]*models.Node{n})
		require.Error(t, err)
	})

	t.Run("Accepts a valid inventory", func(t *testing.T) {
		err := svc.Load([]*models.Node{validNode("alpha"), validNode("bravo")})
		require.NoError(t, err)
		_, total := svc.HealthyCount()
		require.Equal(t, 2, total)
	})
}

func TestLoad_CarriesRuntimeStateAcrossReload(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Load([]*models.Node{validNode("alpha")}))
	require.NoError(t, svc.UpdateHealth("alpha", true, 12.5))
	require.NoError(t, svc.BumpQueue("alpha", 2))

	require.NoError(t, svc.Load([]*models.Node{validNode("alpha"), validNode("bravo")}))

	node, err := svc.Get("alpha")
	require.NoError(t, err)
	require.True(t, node.Healthy)
	require.Equal(t, 12.5, node.LatencyMS)
	require.Equal(t, 2, node.QueueDepth)

	fresh, err := svc.Get("bravo")
	require.NoError(t, err)
	require.False(t, fresh.Healthy)
}

func TestUpdateHealth_CountsTransitions(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Load([]*models.Node{validNode("alpha")}))

	require.NoError(t, svc.UpdateHealth("alpha", true, 10))
	require.NoError(t, svc.UpdateHealth("alpha", true, 11))
	require.NoError(t, svc.UpdateHealth("alpha", false, 0))

	node, err := svc.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, 2, node.Transitions)
	require.False(t, node.Healthy)
	// Latency keeps the last successful reading.
	require.Equal(t, 11.0, node.LatencyMS)
}

func TestBumpQueue_FloorsAtZero(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Load([]*models.Node{validNode("alpha")}))

	require.NoError(t, svc.BumpQueue("alpha", -3))
	node, err := svc.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, 0, node.QueueDepth)
}

func TestCapable_FiltersByTag(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	flux := validNode("flux-box")
	flux.Capabilities = []string{models.CapFlux, models.CapSDXL}
	require.NoError(t, svc.Load([]*models.Node{validNode("alpha"), flux}))

	capable := svc.Capable(models.CapFlux)
	require.Len(t, capable, 1)
	require.Equal(t, "flux-box", capable[0].ID)
}

func TestSnapshot_ReturnsCopies(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Load([]*models.Node{validNode("alpha")}))

	snap := svc.Snapshot()
	require.Len(t, snap, 1)
	snap[0].QueueDepth = 99

	node, err := svc.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, 0, node.QueueDepth)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.yaml")
	inventory := `nodes:
  - id: alpha
    name: Alpha Workstation
    tier: quality
    vram_gb: 24
    host: 192.168.1.10
    port: 8188
    capabilities: [sdxl, flux_fp8, upscale]
  - id: bravo
    name: Bravo Laptop
    tier: draft
    host: 192.168.1.11
    port: 8188
    capabilities: [sd15, sdxl]
`
	require.NoError(t, os.WriteFile(path, []byte(inventory), 0o644))

	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.LoadFromFile(path))

	node, err := svc.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, models.TierQuality, node.Tier)
	require.Equal(t, 24, node.VRAMGB)
	require.True(t, node.HasCapability(models.CapUpscale))

	t.Run("Missing file", func(t *testing.T) {
		err := svc.LoadFromFile(filepath.Join(dir, "absent.yaml"))
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrConfig))
	})

	t.Run("Empty inventory", func(t *testing.T) {
		empty := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(empty, []byte("nodes: []\n"), 0o644))
		err := svc.LoadFromFile(empty)
		require.Error(t, err)
	})
}
