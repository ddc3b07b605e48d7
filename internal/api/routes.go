package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Metrics(),
		Logging(h.logger),
	)

	// Health
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /readyz", chain(http.HandlerFunc(h.Readyz)))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Scheduler
	mux.Handle("GET /api/v1/scheduler/status", chain(http.HandlerFunc(h.SchedulerStatus)))

	// Searches
	mux.Handle("POST /api/v1/searches/{id}/run", chain(http.HandlerFunc(h.RunSearch)))
}
