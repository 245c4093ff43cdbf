// Package http assembles the application router: flag API, health, and the
// Prometheus scrape endpoint. Transport concerns only; business logic lives
// in the service layer.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flaggate/internal/flag/handler"
	"flaggate/internal/platform/middleware"
	"flaggate/pkg/platform/httputil"
)

// HealthFunc reports per-dependency status for /health.
type HealthFunc func(ctx context.Context) (map[string]string, bool)

// NewRouter wires middleware and endpoints. auth guards mutations and cache
// administration inside the flag handler's registration; reads stay open.
func NewRouter(h *handler.Handler, auth *middleware.AdminAuth, health HealthFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"service": "flaggate",
			"status":  "running",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status, healthy := health(req.Context())
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{
			"healthy":    healthy,
			"components": status,
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h.Register(r, auth.Require)
	return r
}
