package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ukydev/hems-dispatch/internal/middleware"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// RouterConfig collects the handlers served by the relay server.
type RouterConfig struct {
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
	// IngestRatePerMinute caps telemetry posts per caller; zero disables.
	IngestRatePerMinute int

	Missions  *MissionHandler
	Telemetry *TelemetryHandler
	Keys      *KeyHandler
	Stream    *StreamHandler
}

// NewRouter wires every route of the relay server.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Authenticate)
		r.Post("/api/flight-metrics", cfg.Missions.FlightMetrics)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.RequirePermission(models.ActionIngestTelemetry))
			if cfg.RateLimit != nil && cfg.IngestRatePerMinute > 0 {
				r.Use(cfg.RateLimit.RateLimit(cfg.IngestRatePerMinute, 60))
			}
			r.Post("/api/telemetry", cfg.Telemetry.Ingest)
			r.Post("/api/chat-relay", cfg.Telemetry.ChatRelay)
		})

		r.With(cfg.Auth.RequirePermission(models.ActionIssueAPIKey)).Post("/api/keys", cfg.Keys.Issue)
		r.With(cfg.Auth.RequirePermission(models.ActionDispatchMission), chimw.Timeout(30*time.Second)).
			Post("/api/missions", cfg.Missions.Dispatch)

		r.Route("/api/missions/{id}", func(r chi.Router) {
			r.With(cfg.Auth.RequirePermission(models.ActionViewTracking)).Get("/tracking", cfg.Missions.Tracking)
			r.With(cfg.Auth.RequirePermission(models.ActionViewTracking)).Get("/stream", cfg.Stream.Stream)

			r.Group(func(r chi.Router) {
				r.Use(cfg.Auth.RequirePermission(models.ActionOverrideTracking))
				r.Patch("/tracking", cfg.Missions.PatchTracking)
				r.Post("/override", cfg.Missions.Override)
				r.Post("/source", cfg.Missions.Source)
			})

			r.Group(func(r chi.Router) {
				r.Use(cfg.Auth.RequirePermission(models.ActionCloseMission))
				r.Post("/complete", cfg.Missions.Complete)
				r.Post("/cancel", cfg.Missions.Cancel)
			})
		})
	})
	return r
}
