package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"authcore/internal/platform/middleware"
)

// NewRouter wires the agent's control endpoints with the shared middleware
// stack. The handler delegates to the coordinator; no lifecycle logic lives
// at the transport layer.
func NewRouter(h *Handler, registry *prometheus.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
	r.Post("/auth/refresh", h.handleRefresh)
	r.Post("/auth/restore", h.handleRestore)

	r.Post("/session/{sessionID}/extend", h.handleExtendSession)
	r.Post("/session/{sessionID}/renew", h.handleRenewSession)
	r.Post("/session/{sessionID}/activity", h.handleActivity)

	r.Get("/security/events", h.handleSecurityEvents)

	return r
}
