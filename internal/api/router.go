package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupDataRouter builds the router for the machine-producer port: the
// measurement feed and the anomaly feed, both behind API-key auth.
func SetupDataRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.APIKeyMiddleware)
		r.Post("/data", h.HandleDataIngest)
		r.Post("/api/anomaly/trigger", h.HandleAnomalyTrigger)
	})

	return r
}

// SetupAPIRouter builds the router for the dashboard port: the observer
// websocket, read APIs, and JWT-protected operator mutations.
func SetupAPIRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.HandleWebSocket)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.HandleLogin)
		r.Get("/health", h.HandleHealth)

		r.Get("/alerts", h.HandleListAlerts)
		r.Get("/alerts/{id}", h.HandleGetAlert)
		r.Get("/trends", h.HandleTrend)
		r.Get("/historical", h.HandleHistorical)
		r.Get("/thresholds", h.HandleListThresholds)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.JWTMiddleware)
			r.Post("/alerts/{id}/acknowledge", h.HandleAcknowledgeAlert)
			r.Post("/alerts/{id}/resolve", h.HandleResolveAlert)
			r.Post("/thresholds", h.HandleCreateThreshold)
			r.Put("/thresholds/{id}", h.HandleUpdateThreshold)
			r.Delete("/thresholds/{id}", h.HandleDeleteThreshold)
		})
	})

	return r
}
