package ui

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"proxima/internal/telemetry"
)

// OpsHandler serves profiling, metrics and liveness on the ops port
func OpsHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Mount("/debug", middleware.Profiler())
	r.Handle("/metrics", telemetry.MetricsHandler())
	return r
}
