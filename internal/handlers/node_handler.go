package handlers

import (
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/common"
	"github.com/ternarybob/easel/internal/interfaces"
)

// defaultAdapterSuggestions caps the suggest endpoint's result size.
const defaultAdapterSuggestions = 5

// NodeHandler exposes the node registry, the model catalog and the service
// health summary.
type NodeHandler struct {
	registry interfaces.RegistryService
	catalog  interfaces.CatalogService
	logger   arbor.ILogger
}

func NewNodeHandler(registry interfaces.RegistryService, catalog interfaces.CatalogService, logger arbor.ILogger) *NodeHandler {
	return &NodeHandler{registry: registry, catalog: catalog, logger: logger}
}

// ListHandler returns the node inventory with runtime state.
func (h *NodeHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	nodes := h.registry.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// AssetsHandler returns the model catalog snapshot.
func (h *NodeHandler) AssetsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.catalog.Snapshot())
}

// SuggestHandler returns prompt-matched adapter suggestions.
func (h *NodeHandler) SuggestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		WriteError(w, http.StatusBadRequest, "prompt query parameter is required")
		return
	}
	max := defaultAdapterSuggestions
	if maxParam := r.URL.Query().Get("max"); maxParam != "" {
		if m, err := strconv.Atoi(maxParam); err == nil && m > 0 {
			max = m
		}
	}

	suggestions := h.catalog.SuggestAdapters(prompt, max)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// HealthHandler reports service liveness and the healthy node count. The
// service is degraded when no node is reachable but still serves requests
// that do not need a worker.
func (h *NodeHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	healthy, total := h.registry.HealthyCount()
	status := "ok"
	if healthy == 0 {
		status = "degraded"
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"nodes_healthy": healthy,
		"nodes_total":   total,
		"version":       common.GetVersion(),
	})
}

// VersionHandler returns build version information.
func (h *NodeHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
