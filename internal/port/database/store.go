// Package database defines the database store port (interface).
package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/keepup/cowork/internal/domain/approval"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/domain/session"
	"github.com/keepup/cowork/internal/domain/settings"
)

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *session.Session) error
	// GetSession returns domain.ErrNotFound for an unknown id.
	GetSession(ctx context.Context, id string) (*session.Session, error)
}

// SettingsStore persists key/value settings.
type SettingsStore interface {
	// GetSetting returns domain.ErrNotFound when the key is absent.
	GetSetting(ctx context.Context, key string) (*settings.Setting, error)
	UpsertSetting(ctx context.Context, key string, value json.RawMessage) error
}

// ApprovalStore persists approvals.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *approval.Approval) error
	GetApproval(ctx context.Context, id string) (*approval.Approval, error)
	// ListApprovalsBySession returns approvals newest first.
	ListApprovalsBySession(ctx context.Context, sessionID string) ([]approval.Approval, error)
	// ResolveApproval moves a pending approval to status atomically. When the
	// record exists but is no longer pending it returns the stored record and
	// an error wrapping domain.ErrConflict. A missing record yields
	// domain.ErrNotFound.
	ResolveApproval(ctx context.Context, id string, status approval.Status, resolvedAt time.Time) (*approval.Approval, error)
}

// AuditStore is the append-only ledger. It has no update or delete.
type AuditStore interface {
	// AppendAudit inserts e. Re-inserting an existing entry id is a no-op.
	AppendAudit(ctx context.Context, e *audit.Entry) error
	// QueryAudit returns matching entries newest first, paginated by the
	// filter's limit and offset. The filter must already be normalized.
	QueryAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
	// AuditStats aggregates every entry of a session.
	AuditStats(ctx context.Context, sessionID string) (audit.Stats, error)
}

// Store aggregates every persistence port.
type Store interface {
	SessionStore
	SettingsStore
	ApprovalStore
	AuditStore
	Ping(ctx context.Context) error
	Close()
}
