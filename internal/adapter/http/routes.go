package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteOptions carries the optional route-level middleware.
type RouteOptions struct {
	// CheckLimit throttles action checks; nil disables it.
	CheckLimit func(http.Handler) http.Handler
	// Idempotency deduplicates session creation; nil disables it.
	Idempotency func(http.Handler) http.Handler
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.HandleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.With(optional(opts.Idempotency)).Post("/", h.CreateSession)
			r.Route("/{sessionId}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Get("/events", h.StreamEvents)
				r.With(optional(opts.CheckLimit)).Post("/tools/check", h.CheckAction)
				r.Get("/approvals", h.ListApprovals)
				r.Get("/audit-logs", h.SessionAuditLogs)
				r.Get("/audit-logs/stats", h.SessionAuditStats)
			})
		})

		r.Get("/approvals/{approvalId}", h.GetApproval)
		r.Patch("/approvals/{approvalId}", h.ResolveApproval)

		r.Get("/tasks/{taskId}/audit-logs", h.TaskAuditLogs)
		r.Post("/audit-logs/query", h.QueryAuditLogs)

		r.Get("/settings/policy", h.GetPolicy)
		r.Put("/settings/policy", h.PutPolicy)
		r.Post("/settings/policy/export", h.ExportPolicy)
	})
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
