package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// GenerationHandler serves single-image and batch generation plus job
// status lookups.
type GenerationHandler struct {
	executor    interfaces.ExecutorService
	generations interfaces.GenerationStorage
	iteration   interfaces.IterationService
	logger      arbor.ILogger
}

func NewGenerationHandler(executor interfaces.ExecutorService, generations interfaces.GenerationStorage, iteration interfaces.IterationService, logger arbor.ILogger) *GenerationHandler {
	return &GenerationHandler{
		executor:    executor,
		generations: generations,
		iteration:   iteration,
		logger:      logger,
	}
}

// GenerateHandler dispatches one image job and returns the accepted record.
func (h *GenerationHandler) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.GenerateRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		WriteServiceError(w, err)
		return
	}

	if err := h.iteration.OnSubmit(r.Context(), req.SessionID); err != nil {
		WriteServiceError(w, err)
		return
	}

	gen, err := h.executor.Generate(r.Context(), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, models.GenerateResponse{
		ID:     gen.ID,
		Status: gen.Status,
		NodeID: gen.NodeID,
	})
}

// BatchHandler dispatches a batch across the candidate nodes.
func (h *GenerationHandler) BatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.BatchGenerateRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		WriteServiceError(w, err)
		return
	}

	if err := h.iteration.OnSubmit(r.Context(), req.SessionID); err != nil {
		WriteServiceError(w, err)
		return
	}

	batch, err := h.executor.GenerateBatch(r.Context(), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("batch_id", batch.ID).Int("count", batch.Total).Msg("Batch dispatched")
	WriteJSON(w, http.StatusAccepted, models.BatchGenerateResponse{
		BatchID:    batch.ID,
		TotalCount: batch.Total,
		Allocation: batch.Allocation,
	})
}

// GetHandler returns one generation record by id.
func (h *GenerationHandler) GetHandler(w http.ResponseWriter, r *http.Request, generationID string) {
	gen, err := h.generations.GetGeneration(r.Context(), generationID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, gen)
}

// BatchGetHandler returns one batch record by id.
func (h *GenerationHandler) BatchGetHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	batch, err := h.generations.GetBatch(r.Context(), batchID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, batch)
}
