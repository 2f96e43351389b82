// Package session defines the agent session a check runs under. A session
// pins the workspace whose policy applies and how paths are compared.
package session

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/keepup/cowork/internal/domain"
)

// Session binds an agent session to a workspace root.
type Session struct {
	ID                   string    `json:"sessionId"`
	WorkspaceRoot        string    `json:"workspaceRoot"`
	CaseInsensitivePaths *bool     `json:"caseInsensitivePaths,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

// PathsCaseInsensitive resolves the effective comparison mode. An explicit
// flag wins; otherwise macOS and Windows default to case-insensitive.
func (s *Session) PathsCaseInsensitive() bool {
	if s.CaseInsensitivePaths != nil {
		return *s.CaseInsensitivePaths
	}
	return PlatformCaseInsensitive(runtime.GOOS)
}

// PlatformCaseInsensitive reports the default filesystem case behavior of goos.
func PlatformCaseInsensitive(goos string) bool {
	switch goos {
	case "darwin", "windows", "ios":
		return true
	}
	return false
}

// CreateRequest holds the fields for opening a session.
type CreateRequest struct {
	WorkspaceRoot        string `json:"workspaceRoot" validate:"required"`
	CaseInsensitivePaths *bool  `json:"caseInsensitivePaths,omitempty"`
}

// Validate checks the request.
func (r *CreateRequest) Validate() error {
	if err := domain.ValidateStruct(r); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if !filepath.IsAbs(r.WorkspaceRoot) {
		return domain.Invalidf("session: workspaceRoot must be absolute, got %q", r.WorkspaceRoot)
	}
	return nil
}
