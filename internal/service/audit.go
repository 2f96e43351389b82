package service

import (
	"context"
	"fmt"

	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/port/database"
)

// AuditService answers read queries against the audit ledger. Writes go
// through AuditWriter; there is no update or delete.
type AuditService struct {
	store    database.AuditStore
	sessions database.SessionStore
}

// NewAuditService creates a new AuditService.
func NewAuditService(store database.AuditStore, sessions database.SessionStore) *AuditService {
	return &AuditService{store: store, sessions: sessions}
}

// GetBySession returns a session's entries newest first. Only the time
// range and pagination of f are honored. Unknown sessions yield
// domain.ErrNotFound.
func (s *AuditService) GetBySession(ctx context.Context, sessionID string, f audit.Filter) ([]audit.Entry, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	q := audit.Filter{
		SessionID: sessionID,
		Since:     f.Since,
		Until:     f.Until,
		Limit:     f.Limit,
		Offset:    f.Offset,
	}
	return s.query(ctx, q)
}

// GetByTask returns a task's entries newest first, bounded by the maximum
// page size.
func (s *AuditService) GetByTask(ctx context.Context, taskID string) ([]audit.Entry, error) {
	return s.query(ctx, audit.Filter{TaskID: taskID, Limit: audit.MaxLimit})
}

// Query runs a general filter over the ledger.
func (s *AuditService) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	return s.query(ctx, f)
}

// GetStats aggregates every entry of a session by action, tool and outcome.
func (s *AuditService) GetStats(ctx context.Context, sessionID string) (*audit.Stats, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	st, err := s.store.AuditStats(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	return &st, nil
}

func (s *AuditService) query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}
	entries, err := s.store.QueryAudit(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return entries, nil
}
