package generation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/common"
	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// Service drives generations from request to terminal state. The synchronous
// part routes, builds and submits; a background goroutine per job polls the
// worker, stores the artifact and emits downstream events.
type Service struct {
	sessions    interfaces.SessionStorage
	generations interfaces.GenerationStorage
	registry    interfaces.RegistryService
	router      interfaces.RouterService
	templates   interfaces.TemplateService
	pool        interfaces.ClientPool
	aggregator  interfaces.AggregatorService
	preferences interfaces.PreferenceService
	catalog     interfaces.CatalogService
	artifacts   interfaces.ArtifactService
	logger      arbor.ILogger

	maxAutoAdapters int
	jobTimeout      time.Duration

	// cancelMu guards the per-session cancel registry; batchMu serializes
	// batch counter read-modify-write.
	cancelMu sync.Mutex
	cancels  map[string]map[string]context.CancelFunc
	batchMu  sync.Mutex
}

// Deps bundles the executor's collaborators.
type Deps struct {
	Sessions    interfaces.SessionStorage
	Generations interfaces.GenerationStorage
	Registry    interfaces.RegistryService
	Router      interfaces.RouterService
	Templates   interfaces.TemplateService
	Pool        interfaces.ClientPool
	Aggregator  interfaces.AggregatorService
	Preferences interfaces.PreferenceService
	Catalog     interfaces.CatalogService
	Artifacts   interfaces.ArtifactService
	Logger      arbor.ILogger
}

// NewService creates the executor.
func NewService(deps Deps, maxAutoAdapters int, jobTimeout time.Duration) interfaces.ExecutorService {
	if maxAutoAdapters <= 0 {
		maxAutoAdapters = 3
	}
	if jobTimeout <= 0 {
		jobTimeout = 300 * time.Second
	}
	return &Service{
		sessions:        deps.Sessions,
		generations:     deps.Generations,
		registry:        deps.Registry,
		router:          deps.Router,
		templates:       deps.Templates,
		pool:            deps.Pool,
		aggregator:      deps.Aggregator,
		preferences:     deps.Preferences,
		catalog:         deps.Catalog,
		artifacts:       deps.Artifacts,
		logger:          deps.Logger,
		maxAutoAdapters: maxAutoAdapters,
		jobTimeout:      jobTimeout,
		cancels:         make(map[string]map[string]context.CancelFunc),
	}
}

// Generate runs the single-image path: persist queued, route, dispatch, then
// drive the job in the background.
func (s *Service) Generate(ctx context.Context, req *models.GenerateRequest) (*models.Generation, error) {
	if !req.TaskClass.Valid() {
		return nil, models.Errorf(models.ErrMissingParameter, "unknown task class %q", req.TaskClass)
	}
	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	checkpoint, err := s.resolveCheckpoint(ctx, req.Prompt, req.ModelFamily, req.Checkpoint)
	if err != nil {
		return nil, err
	}

	gen := s.newGeneration(req, session.Stage, "", checkpoint, req.Adapters, req.Seed)
	if err := s.generations.StoreGeneration(ctx, gen); err != nil {
		return nil, err
	}

	node, err := s.router.PickOne(req.TaskClass, req.ModelFamily, req.PreferredNode)
	if err != nil {
		s.failGeneration(ctx, gen, err)
		return nil, err
	}

	if err := s.dispatch(ctx, gen, node); err != nil {
		return nil, err
	}
	return gen, nil
}

// GenerateBatch fans one request out to N jobs with distinct seeds, spread
// across the router's candidate list.
func (s *Service) GenerateBatch(ctx context.Context, req *models.BatchGenerateRequest) (*models.Batch, error) {
	if !req.TaskClass.Valid() {
		return nil, models.Errorf(models.ErrMissingParameter, "unknown task class %q", req.TaskClass)
	}
	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.router.Candidates(req.TaskClass, req.ModelFamily, req.PreferredNode)
	if err != nil {
		return nil, err
	}
	allocation := s.router.Allocate(candidates, req.Count)

	checkpoints, err := s.selectCheckpoints(ctx, req, session.Stage)
	if err != nil {
		return nil, err
	}

	batch := &models.Batch{
		ID:         common.NewBatchID(),
		SessionID:  req.SessionID,
		Stage:      session.Stage,
		Total:      req.Count,
		Allocation: allocation,
		Status:     models.BatchOpen,
		CreatedAt:  time.Now(),
	}
	if err := s.generations.StoreBatch(ctx, batch); err != nil {
		return nil, err
	}

	seedBase := req.SeedStart
	if seedBase <= 0 {
		seedBase = time.Now().UnixNano() & 0x7FFFFFFF
	}

	// Expand the allocation vector into one node per job, in candidate order.
	assignments := make([]*models.Node, 0, req.Count)
	for _, node := range candidates {
		for i := 0; i < allocation[node.ID]; i++ {
			assignments = append(assignments, node)
		}
	}

	for i := 0; i < req.Count; i++ {
		checkpoint := checkpoints[i%len(checkpoints)]
		adapters := req.Adapters
		if req.AutoAdapters {
			adapters = s.autoAdapters(ctx, req.Prompt, checkpoint)
		}

		gen := s.newGeneration(&req.GenerateRequest, session.Stage, batch.ID, checkpoint, adapters, seedBase+int64(i))
		if err := s.generations.StoreGeneration(ctx, gen); err != nil {
			return nil, err
		}
		// Dispatch failures are already accounted against the batch by the
		// failure path; remaining members still go out.
		_ = s.dispatch(ctx, gen, assignments[i])
	}

	return batch, nil
}

func (s *Service) newGeneration(req *models.GenerateRequest, stage int, batchID, checkpoint string, adapters []models.AdapterSpec, seed int64) *models.Generation {
	now := time.Now()
	return &models.Generation{
		ID:             common.NewGenerationID(),
		SessionID:      req.SessionID,
		BatchID:        batchID,
		Stage:          stage,
		TaskClass:      req.TaskClass,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		ModelFamily:    req.ModelFamily,
		Checkpoint:     checkpoint,
		Adapters:       append([]models.AdapterSpec(nil), adapters...),
		Params: models.GenerationParams{
			Width:         req.Width,
			Height:        req.Height,
			Steps:         req.Steps,
			CFGScale:      req.CFGScale,
			Denoise:       req.Denoise,
			Sampler:       req.Sampler,
			Scheduler:     req.Scheduler,
			Seed:          seed,
			SourceImageID: req.SourceImageID,
		},
		Status:    models.GenerationQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// dispatch builds the graph, submits it and starts the background driver.
// Any failure here marks the generation failed and releases the queue slot.
func (s *Service) dispatch(ctx context.Context, gen *models.Generation, node *models.Node) error {
	if err := s.registry.BumpQueue(node.ID, 1); err != nil {
		s.failGeneration(ctx, gen, err)
		return err
	}

	graph, err := s.buildGraph(gen)
	if err != nil {
		s.registry.BumpQueue(node.ID, -1)
		s.failGeneration(ctx, gen, err)
		return err
	}

	client, err := s.pool.Get(node.ID)
	if err != nil {
		s.registry.BumpQueue(node.ID, -1)
		s.failGeneration(ctx, gen, err)
		return err
	}

	workerJobID, err := client.Submit(ctx, graph)
	if err != nil {
		s.registry.BumpQueue(node.ID, -1)
		s.failGeneration(ctx, gen, err)
		return err
	}

	gen.NodeID = node.ID
	gen.WorkerJobID = workerJobID
	s.transition(ctx, gen, models.GenerationDispatched)

	s.aggregator.Register(workerJobID, gen.ID, gen.SessionID)

	jobCtx, cancel := context.WithCancel(context.Background())
	s.trackCancel(gen.SessionID, gen.ID, cancel)

	driven := *gen
	common.SafeGo(s.logger, "generation-driver-"+gen.ID, func() {
		defer cancel()
		s.drive(jobCtx, &driven, client)
	})
	return nil
}

// drive polls the worker to a terminal state, stores the artifact and emits
// the downstream terminal event.
func (s *Service) drive(ctx context.Context, gen *models.Generation, client interfaces.WorkerClient) {
	defer s.untrackCancel(gen.SessionID, gen.ID)

	started := time.Now()
	s.transition(ctx, gen, models.GenerationRunning)

	outputs, err := client.PollUntilComplete(ctx, gen.WorkerJobID)

	s.registry.BumpQueue(gen.NodeID, -1)
	// Deregistering first keeps the terminal event after every progress
	// event for this generation.
	s.aggregator.Deregister(gen.WorkerJobID)

	if err != nil {
		s.failGeneration(context.Background(), gen, err)
		return
	}
	if len(outputs.Filenames) == 0 {
		s.failGeneration(context.Background(), gen, models.NewError(models.ErrRejectedByWorker, "worker reported no outputs"))
		return
	}

	data, err := client.FetchArtifact(context.Background(), outputs.Filenames[0])
	if err != nil {
		s.failGeneration(context.Background(), gen, err)
		return
	}
	relPath, err := s.artifacts.Save(gen.SessionID, gen.Stage, gen.ID, data)
	if err != nil {
		s.failGeneration(context.Background(), gen, err)
		return
	}

	gen.ArtifactPath = relPath
	gen.FinalSeed = gen.Params.Seed
	gen.DurationMS = time.Since(started).Milliseconds()
	s.transition(context.Background(), gen, models.GenerationComplete)

	artifactURL := "/images/" + filepath.ToSlash(relPath)
	complete := models.CompletePayload{
		GenerationID: gen.ID,
		ArtifactURL:  artifactURL,
		ThumbnailURL: artifactURL,
		Seed:         gen.FinalSeed,
		ElapsedMS:    gen.DurationMS,
		NodeID:       gen.NodeID,
	}
	s.aggregator.Publish(gen.SessionID, models.Event{Type: models.EventComplete, Payload: complete})
	s.logger.Info().Str("generation_id", gen.ID).Str("node", gen.NodeID).Int64("elapsed_ms", gen.DurationMS).Msg("Generation complete")

	if gen.BatchID != "" {
		s.noteBatchCompletion(context.Background(), gen.BatchID, gen.SessionID, &complete)
	}
}

// transition applies a forward state change and persists it. Illegal
// transitions are dropped with a warning.
func (s *Service) transition(ctx context.Context, gen *models.Generation, next models.GenerationStatus) {
	if !gen.Status.CanTransition(next) {
		s.logger.Warn().Str("generation_id", gen.ID).Str("from", string(gen.Status)).Str("to", string(next)).Msg("Illegal status transition dropped")
		return
	}
	gen.Status = next
	gen.UpdatedAt = time.Now()
	if err := s.generations.StoreGeneration(ctx, gen); err != nil {
		s.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("Failed to persist status transition")
	}
}

// failGeneration marks a generation failed, persists it and emits the error
// event. Batch membership is accounted.
func (s *Service) failGeneration(ctx context.Context, gen *models.Generation, cause error) {
	reason := cause.Error()
	if models.IsKind(cause, models.ErrCancelled) {
		reason = "cancelled"
	}
	gen.FailReason = reason
	s.transition(ctx, gen, models.GenerationFailed)

	s.aggregator.Publish(gen.SessionID, models.Event{
		Type:    models.EventError,
		Payload: models.ErrorPayload{GenerationID: gen.ID, Message: reason},
	})
	s.logger.Warn().Str("generation_id", gen.ID).Str("reason", reason).Msg("Generation failed")

	if gen.BatchID != "" {
		s.noteBatchResult(ctx, gen.BatchID, false)
	}
}

// noteBatchCompletion counts one successful member and emits batch progress,
// closing the batch when every member is terminal.
func (s *Service) noteBatchCompletion(ctx context.Context, batchID, sessionID string, latest *models.CompletePayload) {
	batch := s.bumpBatch(ctx, batchID, true)
	if batch == nil {
		return
	}

	s.aggregator.Publish(sessionID, models.Event{
		Type: models.EventBatchProgress,
		Payload: models.BatchProgressPayload{
			BatchID:        batch.ID,
			Completed:      batch.Completed,
			Total:          batch.Total,
			LatestComplete: latest,
		},
	})
	if batch.Status == models.BatchClosed {
		s.aggregator.Publish(sessionID, models.Event{
			Type: models.EventBatchComplete,
			Payload: models.BatchCompletePayload{
				BatchID:   batch.ID,
				Total:     batch.Total,
				ElapsedMS: time.Since(batch.CreatedAt).Milliseconds(),
			},
		})
	}
}

func (s *Service) noteBatchResult(ctx context.Context, batchID string, completed bool) {
	batch := s.bumpBatch(ctx, batchID, completed)
	if batch != nil && batch.Status == models.BatchClosed {
		s.aggregator.Publish(batch.SessionID, models.Event{
			Type: models.EventBatchComplete,
			Payload: models.BatchCompletePayload{
				BatchID:   batch.ID,
				Total:     batch.Total,
				ElapsedMS: time.Since(batch.CreatedAt).Milliseconds(),
			},
		})
	}
}

// bumpBatch increments one terminal counter under the batch lock, closing
// the batch when all members are terminal. Returns the updated batch.
func (s *Service) bumpBatch(ctx context.Context, batchID string, completed bool) *models.Batch {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	batch, err := s.generations.GetBatch(ctx, batchID)
	if err != nil {
		s.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Batch lookup failed")
		return nil
	}
	if completed {
		batch.Completed++
	} else {
		batch.Failed++
	}
	if batch.Completed+batch.Failed >= batch.Total && batch.Status == models.BatchOpen {
		batch.Status = models.BatchClosed
		now := time.Now()
		batch.ClosedAt = &now
	}
	if err := s.generations.StoreBatch(ctx, batch); err != nil {
		s.logger.Error().Err(err).Str("batch_id", batchID).Msg("Failed to persist batch counters")
	}
	return batch
}

// buildGraph selects a template for the generation and renders it.
func (s *Service) buildGraph(gen *models.Generation) (models.WorkflowGraph, error) {
	name, err := s.templates.Select(gen.ModelFamily, gen.Params.SourceImageID != "", len(gen.Adapters) > 0)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"prompt":   gen.Prompt,
		"negative": gen.NegativePrompt,
		"model":    gen.Checkpoint,
		"seed":     gen.Params.Seed,
	}
	if gen.Params.Width > 0 {
		params["width"] = gen.Params.Width
	}
	if gen.Params.Height > 0 {
		params["height"] = gen.Params.Height
	}
	if gen.Params.Steps > 0 {
		params["steps"] = gen.Params.Steps
	}
	if gen.Params.CFGScale > 0 {
		params["cfg"] = gen.Params.CFGScale
	}
	if gen.Params.Denoise > 0 {
		params["denoise"] = gen.Params.Denoise
	}
	if gen.Params.Sampler != "" {
		params["sampler"] = gen.Params.Sampler
	}
	if gen.Params.Scheduler != "" {
		params["scheduler"] = gen.Params.Scheduler
	}
	if gen.Params.SourceImageID != "" {
		params["source_image"] = gen.Params.SourceImageID
	}

	graph, err := s.templates.Build(name, params)
	if err != nil {
		return nil, err
	}
	return s.templates.InjectAdapters(name, graph, gen.Adapters)
}

// resolveCheckpoint picks the checkpoint for a job: the explicit request
// wins, otherwise the preference engine chooses among the catalog's
// checkpoints for the family.
func (s *Service) resolveCheckpoint(ctx context.Context, prompt, family, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	candidates := s.catalog.CheckpointsForFamily(family)
	if len(candidates) == 0 {
		return "", models.Errorf(models.ErrUnknownModel, "no known checkpoint for family %q", family)
	}
	model, _, err := s.preferences.RecommendModel(ctx, prompt, candidates)
	if err != nil {
		return candidates[0], nil
	}
	return model, nil
}

// selectCheckpoints returns the model set for a batch. Without exploration
// it is the single resolved checkpoint; with it, up to three preference-
// ranked checkpoints depending on confidence. The draft stage and the draft
// task class always explore the full spread.
func (s *Service) selectCheckpoints(ctx context.Context, req *models.BatchGenerateRequest, stage int) ([]string, error) {
	resolved, err := s.resolveCheckpoint(ctx, req.Prompt, req.ModelFamily, req.Checkpoint)
	if err != nil {
		return nil, err
	}
	if !req.ExploreModels {
		return []string{resolved}, nil
	}

	candidates := s.catalog.CheckpointsForFamily(req.ModelFamily)
	if len(candidates) == 0 {
		candidates = []string{resolved}
	}

	ranked, confidence := s.rankModels(ctx, req.Prompt, candidates, 3)
	spread := stage == 0 || req.TaskClass == models.TaskDraft

	count := 3
	switch {
	case confidence >= 0.5 && !spread:
		count = 1
	case confidence >= 0.3 && !spread:
		count = 2
	}
	if count > len(ranked) {
		count = len(ranked)
	}
	return ranked[:count], nil
}

// rankModels orders candidates by repeated argmax queries against the
// preference engine. The confidence of the first query is the spread's
// confidence.
func (s *Service) rankModels(ctx context.Context, prompt string, candidates []string, max int) ([]string, float64) {
	remaining := append([]string(nil), candidates...)
	var ranked []string
	confidence := 0.0

	for len(remaining) > 0 && len(ranked) < max {
		best, conf, err := s.preferences.RecommendModel(ctx, prompt, remaining)
		if err != nil {
			break
		}
		if len(ranked) == 0 {
			confidence = conf
		}
		ranked = append(ranked, best)
		next := remaining[:0]
		for _, m := range remaining {
			if m != best {
				next = append(next, m)
			}
		}
		remaining = next
	}
	if len(ranked) == 0 {
		ranked = candidates
		if len(ranked) > max {
			ranked = ranked[:max]
		}
	}
	return ranked, confidence
}

// autoAdapters picks up to maxAutoAdapters adapters for (prompt, model),
// preferring learned affinity and falling back to name matching when no
// stats separate the candidates. Strengths are clipped to [0.5, 0.8].
func (s *Service) autoAdapters(ctx context.Context, prompt, checkpoint string) []models.AdapterSpec {
	scores, err := s.preferences.RecommendAdapters(ctx, prompt, checkpoint, s.catalog.Adapters(), s.maxAutoAdapters)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Adapter recommendation failed")
		return nil
	}

	var specs []models.AdapterSpec
	for _, sc := range scores {
		if sc.Score <= 0.5 {
			continue
		}
		specs = append(specs, models.AdapterSpec{
			Name:          sc.Adapter,
			StrengthModel: clipStrength(sc.Score),
			StrengthClip:  clipStrength(sc.Score),
		})
	}
	if len(specs) > 0 {
		return specs
	}

	// No learned signal; fall back to name matching against the prompt.
	for _, suggestion := range s.catalog.SuggestAdapters(prompt, s.maxAutoAdapters) {
		specs = append(specs, models.AdapterSpec{
			Name:          suggestion.Name,
			StrengthModel: clipStrength(suggestion.Strength),
			StrengthClip:  clipStrength(suggestion.Strength),
		})
	}
	return specs
}

func clipStrength(v float64) float64 {
	if v < 0.5 {
		return 0.5
	}
	if v > 0.8 {
		return 0.8
	}
	return v
}

// CancelSession cancels every in-flight job for the session. Cancellation is
// best-effort toward the worker; the job record fails with reason=cancelled.
func (s *Service) CancelSession(sessionID string) {
	s.cancelMu.Lock()
	jobs := s.cancels[sessionID]
	cancels := make([]context.CancelFunc, 0, len(jobs))
	for _, cancel := range jobs {
		cancels = append(cancels, cancel)
	}
	s.cancelMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		s.logger.Info().Str("session_id", sessionID).Int("jobs", len(cancels)).Msg("Session jobs cancelled")
	}
}

func (s *Service) trackCancel(sessionID, generationID string, cancel context.CancelFunc) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	jobs, ok := s.cancels[sessionID]
	if !ok {
		jobs = make(map[string]context.CancelFunc)
		s.cancels[sessionID] = jobs
	}
	jobs[generationID] = cancel
}

func (s *Service) untrackCancel(sessionID, generationID string) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if jobs, ok := s.cancels[sessionID]; ok {
		delete(jobs, generationID)
		if len(jobs) == 0 {
			delete(s.cancels, sessionID)
		}
	}
}

// SweepStale fails any job stuck non-terminal for more than twice the job
// timeout. Covers drivers lost to process restarts.
func (s *Service) SweepStale(ctx context.Context) int {
	cutoff := time.Now().Add(-2 * s.jobTimeout)
	swept := 0
	for _, status := range []models.GenerationStatus{models.GenerationQueued, models.GenerationDispatched, models.GenerationRunning} {
		gens, err := s.generations.ListByStatus(ctx, status)
		if err != nil {
			s.logger.Warn().Err(err).Str("status", string(status)).Msg("Stale sweep query failed")
			continue
		}
		for _, gen := range gens {
			if gen.UpdatedAt.After(cutoff) {
				continue
			}
			s.failGeneration(ctx, gen, models.NewError(models.ErrTimeout, fmt.Sprintf("stale after %s", 2*s.jobTimeout)))
			swept++
		}
	}
	if swept > 0 {
		s.logger.Info().Int("jobs", swept).Msg("Stale generations swept")
	}
	return swept
}
