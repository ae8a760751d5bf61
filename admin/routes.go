package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/livestore/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin router. Every /admin route requires the secret;
// /metrics is mounted only when Prometheus is enabled.
func NewRouter(handlers *Handlers, secret string) http.Handler {
	r := chi.NewRouter()

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(secret))
		r.Get("/health", handlers.handleHealth)
		r.Get("/stats", handlers.handleStats)
		r.Get("/live-queries", handlers.handleLiveQueries)
		r.Get("/live-queries/{id}", handlers.handleLiveQuery)
		r.Get("/sinks", handlers.handleSinks)
	})

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	log.Info().Bool("auth", secret != "").Msg("Admin endpoints enabled at /admin/*")
	return r
}
