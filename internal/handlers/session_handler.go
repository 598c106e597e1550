package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/common"
	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// SessionHandler serves the session lifecycle: create, inspect, list and
// delete. Deletion cancels in-flight jobs and removes stored artifacts.
type SessionHandler struct {
	sessions    interfaces.SessionStorage
	generations interfaces.GenerationStorage
	executor    interfaces.ExecutorService
	artifacts   interfaces.ArtifactService
	logger      arbor.ILogger
}

func NewSessionHandler(sessions interfaces.SessionStorage, generations interfaces.GenerationStorage, executor interfaces.ExecutorService, artifacts interfaces.ArtifactService, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		sessions:    sessions,
		generations: generations,
		executor:    executor,
		artifacts:   artifacts,
		logger:      logger,
	}
}

// CreateHandler creates a new workflow session in the configuring state.
func (h *SessionHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.CreateSessionRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		WriteServiceError(w, err)
		return
	}
	if !req.FlowKind.Valid() {
		WriteError(w, http.StatusBadRequest, "unknown flow kind: "+string(req.FlowKind))
		return
	}

	now := time.Now()
	session := &models.Session{
		ID:        common.NewSessionID(),
		FlowKind:  req.FlowKind,
		Stage:     0,
		State:     models.StageConfiguring,
		Intent:    req.InitialConfig,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.sessions.StoreSession(r.Context(), session); err != nil {
		h.logger.Error().Err(err).Msg("Failed to store session")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("session_id", session.ID).Str("flow_kind", string(session.FlowKind)).Msg("Session created")
	WriteJSON(w, http.StatusCreated, session)
}

// ListHandler returns all sessions.
func (h *SessionHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sessions, err := h.sessions.ListSessions(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetHandler returns one session with its artifact disk usage.
func (h *SessionHandler) GetHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	usage, err := h.artifacts.DiskUsage(sessionID)
	if err != nil {
		usage = 0
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session":    session,
		"disk_bytes": usage,
	})
}

// DeleteHandler cancels every in-flight job for the session, then removes
// its generations, artifacts and finally the session record.
func (h *SessionHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		WriteServiceError(w, err)
		return
	}

	h.executor.CancelSession(sessionID)

	removed, err := h.generations.DeleteBySession(r.Context(), sessionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	files, err := h.artifacts.DeleteSession(sessionID)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to remove session artifacts")
	}
	if err := h.sessions.DeleteSession(r.Context(), sessionID); err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("session_id", sessionID).Int("generations", removed).Int("artifacts", files).Msg("Session deleted")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"generations": removed,
		"artifacts":   files,
	})
}

// GenerationsHandler lists the session's generations, optionally filtered to
// one stage via ?stage=N.
func (h *SessionHandler) GenerationsHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		WriteServiceError(w, err)
		return
	}

	var gens []*models.Generation
	var err error
	if stageParam := r.URL.Query().Get("stage"); stageParam != "" {
		stage, convErr := strconv.Atoi(stageParam)
		if convErr != nil {
			WriteError(w, http.StatusBadRequest, "invalid stage parameter: "+stageParam)
			return
		}
		gens, err = h.generations.ListBySessionStage(r.Context(), sessionID, stage)
	} else {
		gens, err = h.generations.ListBySession(r.Context(), sessionID)
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"generations": gens,
		"count":       len(gens),
	})
}

// CancelHandler cancels in-flight jobs for a session without deleting it.
func (h *SessionHandler) CancelHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.executor.CancelSession(sessionID)
	session.Cancelled = true
	session.UpdatedAt = time.Now()
	if err := h.sessions.StoreSession(r.Context(), session); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "session cancelled")
}

// SessionIDFromPath extracts the session id segment from a sub-resource
// path like /api/sessions/{id}/generations.
func SessionIDFromPath(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
