package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// ImageHandler serves stored artifacts under /images/{session}/{stage}/{file}.
type ImageHandler struct {
	artifacts interfaces.ArtifactService
	logger    arbor.ILogger
}

func NewImageHandler(artifacts interfaces.ArtifactService, logger arbor.ILogger) *ImageHandler {
	return &ImageHandler{artifacts: artifacts, logger: logger}
}

// ServeHandler streams one artifact. The path below /images/ is the
// artifact's relative path; traversal attempts are rejected by the store.
func (h *ImageHandler) ServeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	relPath := strings.TrimPrefix(r.URL.Path, "/images/")
	if relPath == "" || relPath == r.URL.Path {
		WriteError(w, http.StatusNotFound, "image not found")
		return
	}

	data, err := h.artifacts.Get(relPath)
	if err != nil {
		if models.IsKind(err, models.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "image not found")
		} else {
			WriteServiceError(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}
