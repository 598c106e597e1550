package iteration

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// moreLikeThisDenoise is the img2img denoise strength for variations on a
// selected image. Low enough to stay close to the source.
const moreLikeThisDenoise = 0.4

// flowStages is the number of iteration rounds per flow kind.
var flowStages = map[models.FlowKind]int{
	models.FlowConceptBuilder: 3,
	models.FlowDraftGrid:      2,
	models.FlowExplorer:       4,
}

// stageBatchSizes is the suggested batch count per stage position: wide at
// the start, narrowing toward the final round.
var stageBatchSizes = []int{8, 4, 2}

// Service is the per-session stage funnel. It owns session state
// transitions, routes feedback into the preference engine and plans the
// next generation round.
type Service struct {
	sessions    interfaces.SessionStorage
	generations interfaces.GenerationStorage
	preferences interfaces.PreferenceService
	rewriter    interfaces.Rewriter
	logger      arbor.ILogger
}

// NewService creates the iteration controller.
func NewService(sessions interfaces.SessionStorage, generations interfaces.GenerationStorage, preferences interfaces.PreferenceService, rewriter interfaces.Rewriter, logger arbor.ILogger) interfaces.IterationService {
	return &Service{
		sessions:    sessions,
		generations: generations,
		preferences: preferences,
		rewriter:    rewriter,
		logger:      logger,
	}
}

// OnSubmit moves the session into generating when a round goes out.
func (s *Service) OnSubmit(ctx context.Context, sessionID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.State == models.StageDone {
		return models.Errorf(models.ErrConfig, "session %s is finished", sessionID)
	}
	if session.State == models.StageGenerating {
		return nil
	}

	session.State = models.StageGenerating
	session.UpdatedAt = time.Now()
	return s.sessions.StoreSession(ctx, session)
}

// OnBatchComplete moves generating into reviewing. Late or duplicate
// notifications are ignored.
func (s *Service) OnBatchComplete(ctx context.Context, sessionID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.State != models.StageGenerating {
		return nil
	}

	session.State = models.StageReviewing
	session.UpdatedAt = time.Now()
	return s.sessions.StoreSession(ctx, session)
}

// Feedback ingests select or more-like-this feedback, records preferences,
// and returns the plan for the next round. Select advances the stage; the
// terminal stage moves the session to done.
func (s *Service) Feedback(ctx context.Context, req *models.FeedbackRequest) (*models.IterationPlan, error) {
	if !req.Action.Valid() {
		return nil, models.Errorf(models.ErrMissingParameter, "unknown feedback action %q", req.Action)
	}
	if req.Action == models.FeedbackRejectAll {
		return nil, models.NewError(models.ErrMissingParameter, "reject_all goes through the reject-all operation")
	}
	if len(req.SelectedIDs) == 0 {
		return nil, models.NewError(models.ErrMissingParameter, "feedback requires at least one selected generation")
	}

	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.State == models.StageDone {
		return nil, models.Errorf(models.ErrConfig, "session %s is finished", req.SessionID)
	}

	selected, err := s.loadGenerations(ctx, req.SessionID, req.SelectedIDs)
	if err != nil {
		return nil, err
	}
	rejected, err := s.loadGenerations(ctx, req.SessionID, req.RejectedIDs)
	if err != nil {
		return nil, err
	}

	for _, gen := range selected {
		s.record(ctx, gen, models.ActionSelected, req.FeedbackText)
	}
	for _, gen := range rejected {
		s.record(ctx, gen, models.ActionRejected, req.FeedbackText)
	}

	anchor := selected[0]
	if req.Action == models.FeedbackMoreLikeThis {
		return s.planMoreLikeThis(ctx, session, anchor, req)
	}
	return s.planAdvance(ctx, session, anchor, req)
}

// planAdvance advances the stage and plans the next round from the selected
// anchor, with the prompt optionally refined by the rewriter.
func (s *Service) planAdvance(ctx context.Context, session *models.Session, anchor *models.Generation, req *models.FeedbackRequest) (*models.IterationPlan, error) {
	rewrite, err := s.rewriter.Rewrite(ctx, interfaces.RewriteRequest{
		Prompt:   anchor.Prompt,
		Negative: anchor.NegativePrompt,
		Feedback: req.FeedbackText,
		Intent:   session.Intent,
	})
	if err != nil {
		rewrite = interfaces.RewriteResult{
			Prompt:    anchor.Prompt,
			Negative:  anchor.NegativePrompt,
			Rationale: "Prompt carried forward unchanged.",
		}
	}

	total := flowStages[session.FlowKind]
	if total == 0 {
		total = 3
	}
	nextStage := session.Stage + 1

	if session.Intent == nil {
		session.Intent = make(map[string]interface{})
	}
	session.Intent["selected_model"] = anchor.Checkpoint
	session.Intent["selected_prompt"] = rewrite.Prompt
	session.LastFeedback = req.FeedbackText
	session.UpdatedAt = time.Now()

	if nextStage >= total {
		session.State = models.StageDone
		session.Stage = total - 1
		if err := s.sessions.StoreSession(ctx, session); err != nil {
			return nil, err
		}
		return &models.IterationPlan{
			SuggestedPrompt:   rewrite.Prompt,
			SuggestedNegative: rewrite.Negative,
			TaskClass:         models.TaskQuality,
			ModelFamily:       anchor.ModelFamily,
			Parameters:        req.ParameterAdjustments,
			Count:             0,
			Rationale:         "Final stage selected; session complete.",
		}, nil
	}

	session.Stage = nextStage
	session.State = models.StageGenerating
	if err := s.sessions.StoreSession(ctx, session); err != nil {
		return nil, err
	}

	plan := &models.IterationPlan{
		SuggestedPrompt:   rewrite.Prompt,
		SuggestedNegative: rewrite.Negative,
		TaskClass:         s.taskClassForStage(nextStage, total),
		ModelFamily:       anchor.ModelFamily,
		Parameters:        req.ParameterAdjustments,
		Count:             s.batchSizeForStage(nextStage, total),
		Rationale:         rewrite.Rationale,
	}
	s.logger.Info().Str("session_id", session.ID).Int("stage", nextStage).Str("task_class", string(plan.TaskClass)).Msg("Stage advanced")
	return plan, nil
}

// planMoreLikeThis keeps the stage and plans an img2img round anchored on
// the selected image with low denoise.
func (s *Service) planMoreLikeThis(ctx context.Context, session *models.Session, anchor *models.Generation, req *models.FeedbackRequest) (*models.IterationPlan, error) {
	if anchor.ArtifactPath == "" {
		return nil, models.Errorf(models.ErrMissingParameter, "generation %s has no artifact to vary", anchor.ID)
	}

	session.LastFeedback = req.FeedbackText
	session.State = models.StageGenerating
	session.UpdatedAt = time.Now()
	if err := s.sessions.StoreSession(ctx, session); err != nil {
		return nil, err
	}

	return &models.IterationPlan{
		SuggestedPrompt:   anchor.Prompt,
		SuggestedNegative: anchor.NegativePrompt,
		TaskClass:         anchor.TaskClass,
		ModelFamily:       anchor.ModelFamily,
		Parameters:        req.ParameterAdjustments,
		UseImg2Img:        true,
		SourceImageID:     anchor.ArtifactPath,
		Denoise:           moreLikeThisDenoise,
		Count:             4,
		Rationale:         "Variations on the selected image with low denoise.",
	}, nil
}

// RejectAll records every listed generation as rejected. The stage does not
// advance; prior stage inputs stay available for another round.
func (s *Service) RejectAll(ctx context.Context, req *models.RejectAllRequest) error {
	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	rejected, err := s.loadGenerations(ctx, req.SessionID, req.RejectedIDs)
	if err != nil {
		return err
	}
	for _, gen := range rejected {
		s.record(ctx, gen, models.ActionRejected, req.FeedbackText)
	}

	session.LastFeedback = req.FeedbackText
	session.UpdatedAt = time.Now()
	if err := s.sessions.StoreSession(ctx, session); err != nil {
		return err
	}

	s.logger.Info().Str("session_id", req.SessionID).Int("rejected", len(rejected)).Msg("Stage rejected")
	return nil
}

func (s *Service) loadGenerations(ctx context.Context, sessionID string, ids []string) ([]*models.Generation, error) {
	gens := make([]*models.Generation, 0, len(ids))
	for _, id := range ids {
		gen, err := s.generations.GetGeneration(ctx, id)
		if err != nil {
			return nil, err
		}
		if gen.SessionID != sessionID {
			return nil, models.Errorf(models.ErrNotFound, "generation %s does not belong to session %s", id, sessionID)
		}
		gens = append(gens, gen)
	}
	return gens, nil
}

func (s *Service) record(ctx context.Context, gen *models.Generation, action models.PreferenceAction, feedback string) {
	adapters := make([]string, 0, len(gen.Adapters))
	for _, a := range gen.Adapters {
		adapters = append(adapters, a.Name)
	}
	if err := s.preferences.Record(ctx, gen.Prompt, gen.Checkpoint, adapters, action, gen.Stage, gen.SessionID, feedback); err != nil {
		s.logger.Warn().Err(err).Str("generation_id", gen.ID).Msg("Failed to record preference")
	}
}

// taskClassForStage maps stage position to routing class: draft first, then
// standard rounds, quality last.
func (s *Service) taskClassForStage(stage, total int) models.TaskClass {
	switch {
	case stage == 0:
		return models.TaskDraft
	case stage >= total-1:
		return models.TaskQuality
	}
	return models.TaskStandard
}

func (s *Service) batchSizeForStage(stage, total int) int {
	idx := stage
	if total > len(stageBatchSizes) {
		// Long flows hold the middle size until the final round.
		if stage >= total-1 {
			idx = len(stageBatchSizes) - 1
		} else if stage > 0 {
			idx = 1
		}
	}
	if idx >= len(stageBatchSizes) {
		idx = len(stageBatchSizes) - 1
	}
	return stageBatchSizes[idx]
}
