package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"eve-foreman/internal/auth"
	"eve-foreman/internal/config"
	"eve-foreman/internal/db"
	"eve-foreman/internal/esi"
	"eve-foreman/internal/logger"
	"eve-foreman/internal/refdata"
)

// Server is the HTTP API server that connects the build-plan engine,
// the project store and the ESI client.
type Server struct {
	cfg      *config.Config
	db       *db.DB
	esi      *esi.Client
	industry *esi.IndustryData
	creds    *auth.Store

	mu    sync.RWMutex
	ref   *refdata.Store
	ready bool
}

// NewServer creates a Server. Reference data is attached later via
// SetRefData; until then planning endpoints answer 503.
func NewServer(cfg *config.Config, database *db.DB, esiClient *esi.Client, industry *esi.IndustryData, creds *auth.Store) *Server {
	return &Server{
		cfg:      cfg,
		db:       database,
		esi:      esiClient,
		industry: industry,
		creds:    creds,
	}
}

// SetRefData is called when the reference catalogue finishes loading.
func (s *Server) SetRefData(store *refdata.Store) {
	s.mu.Lock()
	s.ref = store
	s.ready = true
	s.mu.Unlock()
	logger.Success("API", "Reference data attached, planning endpoints live")
}

// snapshot returns the current reference snapshot, or false while the
// catalogue is still loading.
func (s *Server) snapshot() (*refdata.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return nil, false
	}
	return s.ref.Snapshot(), true
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/items/search", s.handleItemSearch)
	mux.HandleFunc("POST /api/plan", s.handlePlan)

	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)
	mux.HandleFunc("PUT /api/projects/{id}/status", s.handleProjectStatus)
	mux.HandleFunc("PUT /api/projects/{id}/stock", s.handleProjectStock)
	mux.HandleFunc("POST /api/projects/{id}/misc", s.handleProjectMisc)
	mux.HandleFunc("POST /api/projects/{id}/plan", s.handleProjectPlan)
	mux.HandleFunc("GET /api/projects/{id}/jobs", s.handleProjectJobs)
	mux.HandleFunc("GET /api/projects/{id}/detection-log", s.handleProjectDetectionLog)

	mux.HandleFunc("GET /api/detection/log", s.handleDetectionLog)
	mux.HandleFunc("POST /api/jobs/{id}/ignore", s.handleIgnoreJob)

	return corsMiddleware(mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	blueprints := 0
	if ready {
		snap, _ := s.snapshot()
		snap.EachItem(func(item *refdata.Item) {
			if _, ok := snap.BlueprintProducing(item.ID); ok {
				blueprints++
			}
		})
	}
	writeJSON(w, map[string]interface{}{
		"status":     "ok",
		"ready":      ready,
		"blueprints": blueprints,
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeNotReady(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "reference data still loading")
}
