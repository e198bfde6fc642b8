// Package api wires the HTTP surface of the engine.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/caselane/caselane/internal/api/handlers"
	"github.com/caselane/caselane/internal/api/middleware"
	"github.com/caselane/caselane/internal/config"
	"github.com/caselane/caselane/internal/engine"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, e *engine.Engine) http.Handler {
	h := handlers.New(e)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/leads", func(r chi.Router) {
			r.Post("/", h.SubmitLead)
			r.Route("/{leadID}", func(r chi.Router) {
				r.Get("/context", h.GetLeadContext)
				r.Get("/interactions", h.ListLeadInteractions)
				r.Post("/events", h.ReportLeadEvent)
			})
		})

		r.Get("/messages", h.ListMessages)
		r.Get("/agents", h.ListAgents)
		r.Get("/system/stats", h.GetStats)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "caselane-engine",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
		})
	}
}
