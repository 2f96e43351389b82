package postgres

import (
	"context"
	"fmt"

	"github.com/keepup/cowork/internal/domain/session"
)

// CreateSession inserts a session.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, workspace_root, case_insensitive_paths, created_at)
		 VALUES ($1, $2, $3, $4)`,
		sess.ID, sess.WorkspaceRoot, sess.CaseInsensitivePaths, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var sess session.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_root, case_insensitive_paths, created_at FROM sessions WHERE id = $1`,
		id).Scan(&sess.ID, &sess.WorkspaceRoot, &sess.CaseInsensitivePaths, &sess.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get session %s", id)
	}
	return &sess, nil
}
