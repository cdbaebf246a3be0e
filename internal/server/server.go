// Package server exposes the scheduling engine over HTTP.
package server

import (
	"net/http"

	"github.com/brk3/habitd/internal/config"
	"github.com/brk3/habitd/internal/engine"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	engine *engine.Engine
	cfg    *config.Config
}

func New(e *engine.Engine, cfg *config.Config) *Server {
	return &Server{engine: e, cfg: cfg}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/version", s.getVersionInfo)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.AuthToken != "" {
			r.Use(tokenAuthMiddleware(s.cfg.AuthToken))
		}

		r.Post("/rollover", s.rollover)
		r.Post("/authorize", s.authorize)
		r.Route("/habits", func(r chi.Router) {
			r.Post("/", s.trackHabit)
			r.Get("/", s.listHabits)
			r.Route("/{habit_id}", func(r chi.Router) {
				r.Get("/", s.getHabit)
				r.Put("/", s.updateHabit)
				r.Delete("/", s.deleteHabit)
				r.Get("/summary", s.getHabitSummary)
				r.Get("/today", s.getToday)
				r.Get("/future", s.getFutureDays)
				r.Put("/days/{date}", s.markDay)
				r.Delete("/days/{date}", s.unmarkDay)
				r.Get("/notifications", s.listNotifications)
				r.Post("/reconcile", s.reconcileHabit)
			})
		})
	})
	return r
}
