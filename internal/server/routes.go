package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/easel/internal/handlers"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Sessions
	mux.HandleFunc("/sessions", s.handleSessionsRoute)
	mux.HandleFunc("/sessions/", s.handleSessionRoutes)

	// Generation
	mux.HandleFunc("/generate", s.app.GenerationHandler.GenerateHandler)
	mux.HandleFunc("/generate/batch", s.app.GenerationHandler.BatchHandler)
	mux.HandleFunc("/generate/", s.handleGenerateRoutes)
	mux.HandleFunc("/batches/", s.handleBatchRoutes)

	// Iteration
	mux.HandleFunc("/iterate", s.app.IterationHandler.FeedbackHandler)
	mux.HandleFunc("/iterate/reject-all", s.app.IterationHandler.RejectAllHandler)

	// Preferences
	mux.HandleFunc("/preferences/stats", s.app.PreferenceHandler.StatsHandler)
	mux.HandleFunc("/preferences/export", s.app.PreferenceHandler.ExportHandler)
	mux.HandleFunc("/preferences/import", s.app.PreferenceHandler.ImportHandler)
	mux.HandleFunc("/preferences/recommend/model", s.app.PreferenceHandler.RecommendHandler)

	// Nodes and catalog
	mux.HandleFunc("/nodes", s.app.NodeHandler.ListHandler)
	mux.HandleFunc("/nodes/assets", s.app.NodeHandler.AssetsHandler)
	mux.HandleFunc("/adapters/suggest", s.app.NodeHandler.SuggestHandler)

	// System
	mux.HandleFunc("/health", s.app.NodeHandler.HealthHandler)
	mux.HandleFunc("/version", s.app.NodeHandler.VersionHandler)

	// Artifacts
	mux.HandleFunc("/images/", s.app.ImageHandler.ServeHandler)

	// Session event stream
	mux.HandleFunc("/ws/session/", s.app.StreamHandler.HandleSession)

	return mux
}

// handleSessionsRoute serves the collection endpoint: list and create.
func (s *Server) handleSessionsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.SessionHandler.ListHandler(w, r)
	case http.MethodPost:
		s.app.SessionHandler.CreateHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionRoutes serves /sessions/{id} and its sub-resources.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	const prefix = "/sessions/"
	sessionID := handlers.SessionIDFromPath(r.URL.Path, prefix)
	if sessionID == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, prefix+sessionID)
	switch {
	case rest == "" || rest == "/":
		switch r.Method {
		case http.MethodGet:
			s.app.SessionHandler.GetHandler(w, r, sessionID)
		case http.MethodDelete:
			s.app.SessionHandler.DeleteHandler(w, r, sessionID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case rest == "/generations":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.SessionHandler.GenerationsHandler(w, r, sessionID)
	case rest == "/cancel":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.SessionHandler.CancelHandler(w, r, sessionID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleGenerateRoutes serves GET /generate/{id}.
func (s *Server) handleGenerateRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	generationID := strings.TrimPrefix(r.URL.Path, "/generate/")
	if generationID == "" || strings.Contains(generationID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.GenerationHandler.GetHandler(w, r, generationID)
}

// handleBatchRoutes serves GET /batches/{id}.
func (s *Server) handleBatchRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	batchID := strings.TrimPrefix(r.URL.Path, "/batches/")
	if batchID == "" || strings.Contains(batchID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.GenerationHandler.BatchGetHandler(w, r, batchID)
}
