package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/keepup/cowork/internal/domain/session"
	"github.com/keepup/cowork/internal/port/database"
)

// SessionService opens and looks up agent sessions.
type SessionService struct {
	store database.SessionStore
	now   func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(store database.SessionStore) *SessionService {
	return &SessionService{store: store, now: time.Now}
}

// Create opens a session bound to a workspace root.
func (s *SessionService) Create(ctx context.Context, req session.CreateRequest) (*session.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess := &session.Session{
		ID:                   uuid.NewString(),
		WorkspaceRoot:        filepath.Clean(req.WorkspaceRoot),
		CaseInsensitivePaths: req.CaseInsensitivePaths,
		CreatedAt:            s.now().UTC(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "session created", "session_id", sess.ID, "workspace_root", sess.WorkspaceRoot)
	return sess, nil
}

// Get returns a session by ID. Unknown ids yield domain.ErrNotFound.
func (s *SessionService) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.store.GetSession(ctx, id)
}
