package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", s.handleRoot)
	r.Get("/api/health", s.handleHealthCheck)

	r.Route("/scan", func(r chi.Router) {
		r.Post("/start", s.handleScanStart)
		r.Post("/stop", s.handleScanStop)
		r.Get("/status", s.handleScanStatus)
	})

	r.Route("/houses", func(r chi.Router) {
		r.Get("/", s.handleListHouses)
		r.Get("/search", s.handleSearchHouses)
		r.Get("/{addressID}", s.handleGetHouse)
	})

	r.Get("/listings", s.handleListListings)
	r.Get("/stats", s.handleStats)
	r.Get("/monitoring", s.handleMonitoring)

	return r
}
