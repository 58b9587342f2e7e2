package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/middleware"
)

// NewRouter wires all record endpoints behind the auth middleware, with
// health and metrics left open for probes and scrapers.
func NewRouter(h *Handler, validator middleware.TokenValidator, logger *slog.Logger, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, logger))

		r.Post("/records", h.handleUpload)
		r.Get("/records", h.handleListRecords)
		r.Get("/records/{recordID}", h.handleGetRecord)
		r.Delete("/records/{recordID}", h.handlePurge)
		r.Get("/records/{recordID}/payload", h.handleReadPayload)
		r.Get("/records/{recordID}/audit", h.handleAuditTrail)
		r.Get("/audit", h.handleRecentAudit)

		r.Post("/records/{recordID}/access/request", h.handleRequestAccess)
		r.Post("/records/{recordID}/access/grant", h.handleGrantAccess)
		r.Post("/records/{recordID}/access/deny", h.handleDenyAccess)
		r.Post("/records/{recordID}/break-glass", h.handleBreakGlass)
	})

	return r
}
