package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// IterationHandler routes stage feedback into the iteration controller.
type IterationHandler struct {
	iteration interfaces.IterationService
	logger    arbor.ILogger
}

func NewIterationHandler(iteration interfaces.IterationService, logger arbor.ILogger) *IterationHandler {
	return &IterationHandler{iteration: iteration, logger: logger}
}

// FeedbackHandler ingests select or more-like-this feedback and returns the
// next-stage plan.
func (h *IterationHandler) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.FeedbackRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		WriteServiceError(w, err)
		return
	}

	plan, err := h.iteration.Feedback(r.Context(), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().
		Str("session_id", req.SessionID).
		Str("action", string(req.Action)).
		Int("next_count", plan.Count).
		Msg("Feedback processed")
	WriteJSON(w, http.StatusOK, plan)
}

// RejectAllHandler records a whole-stage rejection without advancing.
func (h *IterationHandler) RejectAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.RejectAllRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		WriteServiceError(w, err)
		return
	}

	if err := h.iteration.RejectAll(r.Context(), &req); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"recorded":  true,
		"rationale": "Stage rejected; the previous round stays available for another attempt.",
	})
}
