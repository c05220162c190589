// Package web exposes ingestion and analytics over HTTP as a JSON API.
package web

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/insightguard/scangraph/internal/db"
	"github.com/insightguard/scangraph/internal/ingest"
)

// Server wires the web handlers and dependencies.
type Server struct {
	DB       *db.DB
	Ingestor *ingest.Orchestrator
	Log      *slog.Logger
	Router   chi.Router
}

// NewServer constructs the router and registers routes.
func NewServer(database *db.DB, ingestor *ingest.Orchestrator, log *slog.Logger) *Server {
	server := &Server{DB: database, Ingestor: ingestor, Log: log}

	r := chi.NewRouter()
	r.Use(server.requestLogger)

	r.Get("/", server.handleRoot)
	r.Get("/healthz", server.handleHealth)

	r.Post("/api/ingest/{family}", server.apiIngest)

	r.Get("/api/{family}/scans", server.apiListScans)
	r.Get("/api/{family}/{scanID}/summary", server.apiScanSummary)
	r.Get("/api/{family}/{scanID}/charts", server.apiScanCharts)
	r.Get("/api/{family}/{scanID}/findings", server.apiScanFindings)
	r.Get("/api/{family}/{scanID}/graph", server.apiScanGraph)
	r.Get("/api/{family}/{scanID}/export", server.apiScanExport)

	r.Get("/api/dashboard/weekly-latest", server.apiDashboardWeeklyLatest)
	r.Get("/api/dashboard/monthly-web-latest", server.apiDashboardMonthlyWebLatest)
	r.Get("/api/dashboard/dept-latest", server.apiDashboardDeptLatest)

	server.Router = r
	return server
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.Router
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]any{
		"service":   "scangraph",
		"endpoints": []string{"/api/ingest/{family}", "/api/{family}/scans", "/api/dashboard/weekly-latest"},
	}, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Ping(); err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}
