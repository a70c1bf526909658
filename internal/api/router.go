package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Metrics first to capture all requests
	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(s.log))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)

	r.Route("/monitor", func(r chi.Router) {
		r.Post("/start", s.handleMonitorStart)
		r.Post("/stop", s.handleMonitorStop)
		r.Post("/health-check", s.handleHealthCheck)
	})

	r.Route("/listings", func(r chi.Router) {
		r.Post("/", s.handleCreateListing)
		r.Get("/{id}", s.handleGetListing)
		r.Post("/{id}/match", s.handleMatchListing)
		r.Get("/{id}/matches", s.handleListingMatches)
	})

	r.Get("/matches", s.handleMatches)

	return r
}
