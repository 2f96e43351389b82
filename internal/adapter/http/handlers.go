package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/action"
	"github.com/keepup/cowork/internal/domain/approval"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/service"
)

// EventStream serves a session's live notification stream.
type EventStream interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID string)
}

// Pinger reports backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handlers and their service dependencies.
type Handlers struct {
	Sessions      *service.SessionService
	Authorization *service.AuthorizationService
	Approvals     *service.ApprovalService
	Audit         *service.AuditService
	Policies      *service.PolicyResolver
	Settings      *service.SettingsService
	Events        EventStream
	Store         Pinger
	// WorkspaceRoot is used by the settings endpoints when no session is given.
	WorkspaceRoot string
}

// HandleHealth reports liveness and store reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Sessions ---

// CreateSession handles POST /sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	handleCreate(maxRequestBodySize, h.Sessions.Create)(w, r)
}

// GetSession handles GET /sessions/{sessionId}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	handleGet("sessionId", "session", "", h.Sessions.Get)(w, r)
}

// StreamEvents handles GET /sessions/{sessionId}/events.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "sessionId")
	if _, err := h.Sessions.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, notFoundMsg("session", id))
		return
	}
	h.Events.Serve(w, r, id)
}

// --- Authorization ---

// CheckAction handles POST /sessions/{sessionId}/tools/check. A denial is
// a successful check and answers 200.
func (h *Handlers) CheckAction(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "sessionId")
	req, ok := readJSON[action.Request](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	out, err := h.Authorization.CheckAction(r.Context(), id, r.URL.Query().Get("taskId"), req)
	if err != nil {
		writeDomainError(w, err, notFoundMsg("session", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

// --- Approvals ---

// ListApprovals handles GET /sessions/{sessionId}/approvals.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	handleListByParam("sessionId", "session", "approvals", h.Approvals.ListBySession)(w, r)
}

// GetApproval handles GET /approvals/{approvalId}.
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	handleGet("approvalId", "approval", "approval", h.Approvals.Get)(w, r)
}

// ResolveApproval handles PATCH /approvals/{approvalId}. A conflicting
// resolution answers 409 with the stored record.
func (h *Handlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "approvalId")
	req, ok := readJSON[approval.ResolveRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	a, err := h.Approvals.Resolve(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) && a != nil {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":    "approval already resolved as " + string(a.Status),
				"approval": a,
			})
			return
		}
		writeDomainError(w, err, notFoundMsg("approval", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approval": a})
}

// --- Audit ---

// SessionAuditLogs handles GET /sessions/{sessionId}/audit-logs.
func (h *Handlers) SessionAuditLogs(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "sessionId")
	f, err := auditPage(r)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	entries, err := h.Audit.GetBySession(r.Context(), id, f)
	if err != nil {
		writeDomainError(w, err, notFoundMsg("session", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// SessionAuditStats handles GET /sessions/{sessionId}/audit-logs/stats.
func (h *Handlers) SessionAuditStats(w http.ResponseWriter, r *http.Request) {
	handleGet("sessionId", "session", "", h.Audit.GetStats)(w, r)
}

// TaskAuditLogs handles GET /tasks/{taskId}/audit-logs.
func (h *Handlers) TaskAuditLogs(w http.ResponseWriter, r *http.Request) {
	handleListByParam("taskId", "task", "entries", h.Audit.GetByTask)(w, r)
}

// QueryAuditLogs handles POST /audit-logs/query.
func (h *Handlers) QueryAuditLogs(w http.ResponseWriter, r *http.Request) {
	f, ok := readJSON[audit.Filter](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	entries, err := h.Audit.Query(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// --- Settings ---

// workspace returns the root and audit context the settings endpoints act
// on: the session's when sessionId is given, the configured root otherwise.
func (h *Handlers) workspace(r *http.Request) (string, service.AuditContext, error) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		return h.WorkspaceRoot, service.AuditContext{}, nil
	}
	sess, err := h.Sessions.Get(r.Context(), id)
	if err != nil {
		return "", service.AuditContext{}, err
	}
	return sess.WorkspaceRoot, service.AuditContext{SessionID: sess.ID}, nil
}

// GetPolicy handles GET /settings/policy.
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	root, actx, err := h.workspace(r)
	if err != nil {
		writeDomainError(w, err, notFoundMsg("session", r.URL.Query().Get("sessionId")))
		return
	}
	writeJSON(w, http.StatusOK, h.Policies.Resolve(r.Context(), root, actx))
}

// ExportPolicy handles POST /settings/policy/export.
func (h *Handlers) ExportPolicy(w http.ResponseWriter, r *http.Request) {
	root, actx, err := h.workspace(r)
	if err != nil {
		writeDomainError(w, err, notFoundMsg("session", r.URL.Query().Get("sessionId")))
		return
	}
	out, err := h.Policies.Export(r.Context(), root, actx)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PutPolicy handles PUT /settings/policy. The body is the policy document.
func (h *Handlers) PutPolicy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg, err := h.Settings.PutPolicy(r.Context(), body)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policy": cfg})
}
