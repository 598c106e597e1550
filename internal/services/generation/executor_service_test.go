package generation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
	"github.com/ternarybob/easel/internal/services/artifacts"
	"github.com/ternarybob/easel/internal/services/progress"
	"github.com/ternarybob/easel/internal/services/registry"
	"github.com/ternarybob/easel/internal/services/router"
)

type memSessions struct {
	sessions map[string]*models.Session
}

func (m *memSessions) StoreSession(_ context.Context, s *models.Session) error {
	m.sessions[s.ID] = s
	return nil
}

func (m *memSessions) GetSession(_ context.Context, id string) (*models.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "session not found: %s", id)
	}
	return s, nil
}

func (m *memSessions) DeleteSession(_ context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) ListSessions(_ context.Context) ([]*models.Session, error) { return nil, nil }

type memGenerations struct {
	mu      sync.Mutex
	gens    map[string]*models.Generation
	batches map[string]*models.Batch
}

func newMemGenerations() *memGenerations {
	return &memGenerations{gens: make(map[string]*models.Generation), batches: make(map[string]*models.Batch)}
}

func (m *memGenerations) StoreGeneration(_ context.Context, g *models.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.gens[g.ID] = &cp
	return nil
}

func (m *memGenerations) GetGeneration(_ context.Context, id string) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gens[id]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "generation not found: %s", id)
	}
	cp := *g
	return &cp, nil
}

func (m *memGenerations) ListBySession(_ context.Context, sessionID string) ([]*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Generation
	for _, g := range m.gens {
		if g.SessionID == sessionID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memGenerations) ListBySessionStage(_ context.Context, sessionID string, stage int) ([]*models.Generation, error) {
	all, _ := m.ListBySession(context.Background(), sessionID)
	var out []*models.Generation
	for _, g := range all {
		if g.Stage == stage {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memGenerations) ListByStatus(_ context.Context, status models.GenerationStatus) ([]*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Generation
	for _, g := range m.gens {
		if g.Status == status {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memGenerations) DeleteBySession(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, g := range m.gens {
		if g.SessionID == sessionID {
			delete(m.gens, id)
			count++
		}
	}
	return count, nil
}

func (m *memGenerations) StoreBatch(_ context.Context, b *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *memGenerations) GetBatch(_ context.Context, id string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "batch not found: %s", id)
	}
	cp := *b
	return &cp, nil
}

type fakeTemplates struct{}

func (fakeTemplates) LoadAll() error { return nil }
func (fakeTemplates) Select(string, bool, bool) (string, error) {
	return "txt2img", nil
}
func (fakeTemplates) Build(_ string, params map[string]interface{}) (models.WorkflowGraph, error) {
	return models.WorkflowGraph{
		"1": &models.WorkflowNode{ClassType: "KSampler", Inputs: params},
	}, nil
}
func (fakeTemplates) InjectAdapters(_ string, g models.WorkflowGraph, _ []models.AdapterSpec) (models.WorkflowGraph, error) {
	return g, nil
}
func (fakeTemplates) Entries() []models.TemplateEntry { return nil }

type fakeCatalog struct {
	checkpoints []string
	adapters    []string
}

func (f *fakeCatalog) Refresh(context.Context) error          { return nil }
func (f *fakeCatalog) Snapshot() *models.CatalogSnapshot      { return &models.CatalogSnapshot{} }
func (f *fakeCatalog) CheckpointsForFamily(string) []string   { return f.checkpoints }
func (f *fakeCatalog) Adapters() []string                     { return f.adapters }
func (f *fakeCatalog) SuggestAdapters(string, int) []models.AdapterSuggestion {
	return nil
}
func (f *fakeCatalog) ClassifyFamily(string) string { return models.CapSDXL }

type fakePreferences struct {
	model      string
	confidence float64
	adapters   []interfaces.AdapterScore
}

func (f *fakePreferences) ExtractKeywords(string) []string { return []string{"castle"} }
func (f *fakePreferences) Record(context.Context, string, string, []string, models.PreferenceAction, int, string, string) error {
	return nil
}
func (f *fakePreferences) RecommendModel(_ context.Context, _ string, candidates []string) (string, float64, error) {
	for _, c := range candidates {
		if c == f.model {
			return f.model, f.confidence, nil
		}
	}
	return candidates[0], f.confidence, nil
}
func (f *fakePreferences) RecommendAdapters(context.Context, string, string, []string, int) ([]interfaces.AdapterScore, error) {
	return f.adapters, nil
}
func (f *fakePreferences) Export(context.Context) (*models.PreferenceExport, error) { return nil, nil }
func (f *fakePreferences) Import(context.Context, []byte) error                     { return nil }
func (f *fakePreferences) Summary(context.Context) (*interfaces.PreferenceSummary, error) {
	return nil, nil
}

// fakeWorker completes jobs after a short delay, or blocks until cancelled.
type fakeWorker struct {
	nodeID string
	block  bool
	fail   bool

	mu      sync.Mutex
	counter int
}

func (f *fakeWorker) NodeID() string { return f.nodeID }

func (f *fakeWorker) Submit(context.Context, models.WorkflowGraph) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	return fmt.Sprintf("%s-job-%d", f.nodeID, f.counter), nil
}

func (f *fakeWorker) PollUntilComplete(ctx context.Context, workerJobID string) (*interfaces.JobOutputs, error) {
	if f.block {
		<-ctx.Done()
		return nil, models.Errorf(models.ErrCancelled, "job %s cancelled", workerJobID)
	}
	if f.fail {
		return nil, models.NewError(models.ErrRejectedByWorker, "worker reported failure: OOM")
	}
	return &interfaces.JobOutputs{Filenames: []string{workerJobID + ".png"}}, nil
}

func (f *fakeWorker) FetchArtifact(_ context.Context, filename string) ([]byte, error) {
	return []byte("png:" + filename), nil
}

func (f *fakeWorker) ListAssets(context.Context) (*interfaces.AssetEnumeration, error) {
	return &interfaces.AssetEnumeration{}, nil
}
func (f *fakeWorker) Probe(context.Context) (float64, error) { return 1, nil }
func (f *fakeWorker) Start(func(interfaces.WorkerEvent))     {}
func (f *fakeWorker) Close() error                           { return nil }

type fakeWorkerPool struct {
	workers map[string]*fakeWorker
}

func (p *fakeWorkerPool) Get(nodeID string) (interfaces.WorkerClient, error) {
	w, ok := p.workers[nodeID]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "no client for %s", nodeID)
	}
	return w, nil
}

func (p *fakeWorkerPool) All() []interfaces.WorkerClient {
	out := make([]interfaces.WorkerClient, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	return out
}

func (p *fakeWorkerPool) Close() error { return nil }

type executorFixture struct {
	svc         interfaces.ExecutorService
	sessions    *memSessions
	generations *memGenerations
	registry    interfaces.RegistryService
	aggregator  interfaces.AggregatorService
	pool        *fakeWorkerPool
}

func newExecutorFixture(t *testing.T, workers map[string]*fakeWorker) *executorFixture {
	t.Helper()
	logger := arbor.NewLogger()

	reg := registry.NewService(logger)
	var nodes []*models.Node
	for id := range workers {
		nodes = append(nodes, &models.Node{
			ID:           id,
			Name:         id,
			Tier:         models.TierStandard,
			Host:         "127.0.0.1",
			Port:         8188,
			Capabilities: []string{models.CapSDXL},
		})
	}
	require.NoError(t, reg.Load(nodes))
	for id := range workers {
		require.NoError(t, reg.UpdateHealth(id, true, 5))
	}

	sessions := &memSessions{sessions: map[string]*models.Session{
		"ses_1": {ID: "ses_1", FlowKind: models.FlowConceptBuilder, Stage: 1, State: models.StageGenerating},
	}}
	generations := newMemGenerations()
	aggregator := progress.NewService(nil, 64, logger)
	store, err := artifacts.NewService(t.TempDir(), logger)
	require.NoError(t, err)
	pool := &fakeWorkerPool{workers: workers}

	svc := NewService(Deps{
		Sessions:    sessions,
		Generations: generations,
		Registry:    reg,
		Router:      router.NewService(reg, 3, logger),
		Templates:   fakeTemplates{},
		Pool:        pool,
		Aggregator:  aggregator,
		Preferences: &fakePreferences{model: "modelA", confidence: 0.6},
		Catalog:     &fakeCatalog{checkpoints: []string{"modelA", "modelB", "modelC"}},
		Artifacts:   store,
		Logger:      logger,
	}, 3, 5*time.Second)

	return &executorFixture{
		svc:         svc,
		sessions:    sessions,
		generations: generations,
		registry:    reg,
		aggregator:  aggregator,
		pool:        pool,
	}
}

func singleRequest() *models.GenerateRequest {
	return &models.GenerateRequest{
		SessionID:   "ses_1",
		Prompt:      "castle on a cliff",
		ModelFamily: models.CapSDXL,
		TaskClass:   models.TaskStandard,
		Seed:        7,
	}
}

func TestGenerate_HappyPath(t *testing.T) {
	fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})
	sub := fix.aggregator.Subscribe("ses_1")
	defer fix.aggregator.Unsubscribe("ses_1", sub)

	gen, err := fix.svc.Generate(context.Background(), singleRequest())
	require.NoError(t, err)
	require.Equal(t, models.GenerationDispatched, gen.Status)
	require.Equal(t, "alpha", gen.NodeID)
	require.NotEmpty(t, gen.WorkerJobID)
	require.Equal(t, "modelA", gen.Checkpoint)

	require.Eventually(t, func() bool {
		stored, err := fix.generations.GetGeneration(context.Background(), gen.ID)
		return err == nil && stored.Status == models.GenerationComplete
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := fix.generations.GetGeneration(context.Background(), gen.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ArtifactPath)
	require.Equal(t, int64(7), stored.FinalSeed)

	ev := <-sub.Events()
	require.Equal(t, models.EventComplete, ev.Type)
	payload := ev.Payload.(models.CompletePayload)
	require.Equal(t, gen.ID, payload.GenerationID)
	require.Contains(t, payload.ArtifactURL, "/images/ses_1/stage_1/")

	// Queue slot released.
	node, err := fix.registry.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, 0, node.QueueDepth)
}

func TestGenerate_NoCapableNode(t *testing.T) {
	fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})
	require.NoError(t, fix.registry.UpdateHealth("alpha", false, 0))

	_, err := fix.svc.Generate(context.Background(), singleRequest())
	require.Error(t, err)
	require.True(t, models.IsKind(err, models.ErrNoCapableNode))

	// The queued record is failed, not orphaned.
	failed, err := fix.generations.ListByStatus(context.Background(), models.GenerationFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestGenerate_WorkerFailure(t *testing.T) {
	fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha", fail: true}})
	sub := fix.aggregator.Subscribe("ses_1")
	defer fix.aggregator.Unsubscribe("ses_1", sub)

	gen, err := fix.svc.Generate(context.Background(), singleRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := fix.generations.GetGeneration(context.Background(), gen.ID)
		return err == nil && stored.Status == models.GenerationFailed
	}, 2*time.Second, 10*time.Millisecond)

	ev := <-sub.Events()
	require.Equal(t, models.EventError, ev.Type)
	require.Equal(t, gen.ID, ev.Payload.(models.ErrorPayload).GenerationID)

	node, err := fix.registry.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, 0, node.QueueDepth)
}

func TestGenerate_UnknownSession(t *testing.T) {
	fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})

	req := singleRequest()
	req.SessionID = "ses_ghost"
	_, err := fix.svc.Generate(context.Background(), req)
	require.Error(t, err)
	require.True(t, models.IsKind(err, models.ErrNotFound))
}

func TestGenerateBatch_AllocationAndCompletion(t *testing.T) {
	fix := newExecutorFixture(t, map[string]*fakeWorker{
		"alpha": {nodeID: "alpha"},
		"bravo": {nodeID: "bravo"},
	})
	sub := fix.aggregator.Subscribe("ses_1")
	defer fix.aggregator.Unsubscribe("ses_1", sub)

	batch, err := fix.svc.GenerateBatch(context.Background(), &models.BatchGenerateRequest{
		GenerateRequest: *singleRequest(),
		Count:           5,
		SeedStart:       100,
	})
	require.NoError(t, err)
	require.Equal(t, 5, batch.Total)
	require.Equal(t, map[string]int{"alpha": 3, "bravo": 2}, batch.Allocation)

	require.Eventually(t, func() bool {
		stored, err := fix.generations.GetBatch(context.Background(), batch.ID)
		return err == nil && stored.Status == models.BatchClosed
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := fix.generations.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, 5, stored.Completed)
	require.Equal(t, 0, stored.Failed)

	// Every member got a distinct seed from the base.
	gens, err := fix.generations.ListBySession(context.Background(), "ses_1")
	require.NoError(t, err)
	require.Len(t, gens, 5)
	seeds := make(map[int64]bool)
	for _, g := range gens {
		seeds[g.Params.Seed] = true
		require.GreaterOrEqual(t, g.Params.Seed, int64(100))
		require.Less(t, g.Params.Seed, int64(105))
	}
	require.Len(t, seeds, 5)

	// The batch_complete event arrives after the last member.
	var sawBatchComplete bool
	for done := false; !done; {
		select {
		case ev := <-sub.Events():
			if ev.Type == models.EventBatchComplete {
				sawBatchComplete = true
				done = true
			}
		case <-time.After(time.Second):
			done = true
		}
	}
	require.True(t, sawBatchComplete)
}

func TestSelectCheckpoints_ExplorationSpread(t *testing.T) {
	base := &models.BatchGenerateRequest{
		GenerateRequest: *singleRequest(),
		Count:           6,
		ExploreModels:   true,
	}

	t.Run("High confidence narrows to one model", func(t *testing.T) {
		fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})
		svc := fix.svc.(*Service)
		svc.preferences = &fakePreferences{model: "modelA", confidence: 0.7}

		req := *base
		req.TaskClass = models.TaskStandard
		selected, err := svc.selectCheckpoints(context.Background(), &req, 1)
		require.NoError(t, err)
		require.Equal(t, []string{"modelA"}, selected)
	})

	t.Run("Mid confidence keeps two", func(t *testing.T) {
		fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})
		svc := fix.svc.(*Service)
		svc.preferences = &fakePreferences{model: "modelA", confidence: 0.4}

		req := *base
		selected, err := svc.selectCheckpoints(context.Background(), &req, 1)
		require.NoError(t, err)
		require.Len(t, selected, 2)
	})

	t.Run("Draft class always spreads", func(t *testing.T) {
		fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})
		svc := fix.svc.(*Service)
		svc.preferences = &fakePreferences{model: "modelA", confidence: 0.9}

		req := *base
		req.TaskClass = models.TaskDraft
		selected, err := svc.selectCheckpoints(context.Background(), &req, 1)
		require.NoError(t, err)
		require.Len(t, selected, 3)
	})

	t.Run("Draft stage always spreads", func(t *testing.T) {
		fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})
		svc := fix.svc.(*Service)
		svc.preferences = &fakePreferences{model: "modelA", confidence: 0.9}

		// A non-draft task class on the first stage still explores.
		req := *base
		req.TaskClass = models.TaskStandard
		selected, err := svc.selectCheckpoints(context.Background(), &req, 0)
		require.NoError(t, err)
		require.Len(t, selected, 3)
	})

	t.Run("Exploration off uses the single resolved model", func(t *testing.T) {
		fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})
		svc := fix.svc.(*Service)

		req := *base
		req.ExploreModels = false
		req.Checkpoint = "pinned.safetensors"
		selected, err := svc.selectCheckpoints(context.Background(), &req, 1)
		require.NoError(t, err)
		require.Equal(t, []string{"pinned.safetensors"}, selected)
	})
}

func TestAutoAdapters_ClipsStrength(t *testing.T) {
	fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})
	svc := fix.svc.(*Service)
	svc.preferences = &fakePreferences{
		model:      "modelA",
		confidence: 0.5,
		adapters: []interfaces.AdapterScore{
			{Adapter: "strong", Score: 0.95},
			{Adapter: "weak", Score: 0.55},
			{Adapter: "ignored", Score: 0.4},
		},
	}
	svc.catalog = &fakeCatalog{adapters: []string{"strong", "weak", "ignored"}}

	specs := svc.autoAdapters(context.Background(), "castle", "modelA")
	require.Len(t, specs, 2)
	require.Equal(t, "strong", specs[0].Name)
	require.Equal(t, 0.8, specs[0].StrengthModel)
	require.Equal(t, 0.55, specs[1].StrengthModel)
}

func TestCancelSession(t *testing.T) {
	fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha", block: true}})
	sub := fix.aggregator.Subscribe("ses_1")
	defer fix.aggregator.Unsubscribe("ses_1", sub)

	gen, err := fix.svc.Generate(context.Background(), singleRequest())
	require.NoError(t, err)

	fix.svc.CancelSession("ses_1")

	require.Eventually(t, func() bool {
		stored, err := fix.generations.GetGeneration(context.Background(), gen.ID)
		return err == nil && stored.Status == models.GenerationFailed
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := fix.generations.GetGeneration(context.Background(), gen.ID)
	require.NoError(t, err)
	require.Equal(t, "cancelled", stored.FailReason)
}

func TestSweepStale(t *testing.T) {
	fix := newExecutorFixture(t, map[string]*fakeWorker{"alpha": {nodeID: "alpha"}})
	svc := fix.svc.(*Service)

	stale := &models.Generation{
		ID:        "gen_stale",
		SessionID: "ses_1",
		Status:    models.GenerationRunning,
		UpdatedAt: time.Now().Add(-time.Hour),
	}
	fresh := &models.Generation{
		ID:        "gen_fresh",
		SessionID: "ses_1",
		Status:    models.GenerationRunning,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, fix.generations.StoreGeneration(context.Background(), stale))
	require.NoError(t, fix.generations.StoreGeneration(context.Background(), fresh))

	swept := svc.SweepStale(context.Background())
	require.Equal(t, 1, swept)

	stored, err := fix.generations.GetGeneration(context.Background(), "gen_stale")
	require.NoError(t, err)
	require.Equal(t, models.GenerationFailed, stored.Status)

	stored, err = fix.generations.GetGeneration(context.Background(), "gen_fresh")
	require.NoError(t, err)
	require.Equal(t, models.GenerationRunning, stored.Status)
}
