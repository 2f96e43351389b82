package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/approval"
)

const approvalColumns = `id, session_id, task_id, action, risk_tags, reason, status, created_at, resolved_at`

func scanApproval(row scannable) (approval.Approval, error) {
	var a approval.Approval
	err := row.Scan(&a.ID, &a.SessionID, &a.TaskID, &a.Action, &a.RiskTags, &a.Reason, &a.Status, &a.CreatedAt, &a.ResolvedAt)
	a.RiskTags = orEmpty(a.RiskTags)
	return a, err
}

// CreateApproval inserts a pending approval.
func (s *Store) CreateApproval(ctx context.Context, a *approval.Approval) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approvals (id, session_id, task_id, action, risk_tags, reason, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.SessionID, a.TaskID, a.Action, pgTextArray(a.RiskTags), a.Reason, a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

// GetApproval returns an approval by ID.
func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Approval, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	return &a, nil
}

// ListApprovalsBySession returns a session's approvals, newest first.
func (s *Store) ListApprovalsBySession(ctx context.Context, sessionID string) ([]approval.Approval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE session_id = $1 ORDER BY created_at DESC, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var result []approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		result = append(result, a)
	}
	return orEmpty(result), rows.Err()
}

// ResolveApproval transitions a pending approval. The status guard in the
// WHERE clause makes concurrent resolutions race-free: exactly one UPDATE
// changes the row.
func (s *Store) ResolveApproval(ctx context.Context, id string, status approval.Status, resolvedAt time.Time) (*approval.Approval, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx,
		`UPDATE approvals SET status = $2, resolved_at = $3
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+approvalColumns,
		id, status, resolvedAt))
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resolve approval %s: %w", id, err)
	}

	current, gerr := s.GetApproval(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	return current, fmt.Errorf("approval %s already %s: %w", id, current.Status, domain.ErrConflict)
}
