package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Post("/ingest", h.Ingest)
			r.Post("/fields", h.UpdateFields)
			r.Post("/rerun", h.Rerun)
			r.Get("/runs", h.ListRuns)
			r.Get("/score", h.LatestScore)
			r.Post("/overrides", h.CreateOverride)
			r.Get("/overrides", h.ListOverrides)
			r.Post("/export", h.RequestExport)
		})

		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Post("/review", h.MarkReviewed)
		})

		r.Get("/exports/{jobID}", h.GetExportJob)

		r.Route("/playbooks", func(r chi.Router) {
			r.Get("/", h.ListPlaybooks)
			r.Post("/", h.CreatePlaybook)
			r.Post("/{playbookID}/activate", h.ActivatePlaybook)
		})
	})

	return r
}
