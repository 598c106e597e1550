package handlers

import (
	"io"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// importBodyLimit caps preference import payloads at 16 MiB.
const importBodyLimit = 16 << 20

// PreferenceHandler exposes preference statistics, export/import and model
// recommendation.
type PreferenceHandler struct {
	preferences interfaces.PreferenceService
	catalog     interfaces.CatalogService
	logger      arbor.ILogger
}

func NewPreferenceHandler(preferences interfaces.PreferenceService, catalog interfaces.CatalogService, logger arbor.ILogger) *PreferenceHandler {
	return &PreferenceHandler{
		preferences: preferences,
		catalog:     catalog,
		logger:      logger,
	}
}

// StatsHandler returns aggregate preference counts.
func (h *PreferenceHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	summary, err := h.preferences.Summary(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// ExportHandler serializes engine state in the versioned export format.
func (h *PreferenceHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	export, err := h.preferences.Export(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="preferences.json"`)
	WriteJSON(w, http.StatusOK, export)
}

// ImportHandler atomically replaces engine state from an export payload.
// Corrupt payloads are rejected without touching current state.
func (h *PreferenceHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, importBodyLimit))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read import payload")
		return
	}

	if err := h.preferences.Import(r.Context(), data); err != nil {
		h.logger.Warn().Err(err).Msg("Preference import rejected")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Int("bytes", len(data)).Msg("Preference state imported")
	WriteSuccess(w, "preferences imported")
}

// RecommendHandler scores the family's known checkpoints for the prompt.
func (h *PreferenceHandler) RecommendHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		WriteError(w, http.StatusBadRequest, "prompt query parameter is required")
		return
	}
	family := r.URL.Query().Get("family")
	if family == "" {
		family = models.CapSDXL
	}

	candidates := h.catalog.CheckpointsForFamily(family)
	model, confidence, err := h.preferences.RecommendModel(r.Context(), prompt, candidates)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, models.RecommendationResponse{
		Model:      model,
		Confidence: confidence,
	})
}
