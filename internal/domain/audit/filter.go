package audit

import (
	"fmt"
	"time"

	"github.com/keepup/cowork/internal/domain"
)

const (
	// DefaultLimit applies when a filter leaves Limit at zero.
	DefaultLimit = 1000
	// MaxLimit bounds every page.
	MaxLimit = 1000
)

// Filter narrows ledger reads. Zero-valued fields do not constrain.
type Filter struct {
	SessionID string     `json:"sessionId,omitempty" validate:"omitempty,max=128"`
	TaskID    string     `json:"taskId,omitempty" validate:"omitempty,max=128"`
	ToolName  string     `json:"toolName,omitempty" validate:"omitempty,max=1024"`
	Action    Action     `json:"action,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
	Limit     int        `json:"limit,omitempty" validate:"gte=0,lte=1000"`
	Offset    int        `json:"offset,omitempty" validate:"gte=0"`
}

// Normalize validates the filter and fills in the default limit.
func (f *Filter) Normalize() error {
	if err := domain.ValidateStruct(f); err != nil {
		return fmt.Errorf("audit filter: %w", err)
	}
	if f.Action != "" && !f.Action.Valid() {
		return domain.Invalidf("audit filter: unknown action %q", f.Action)
	}
	if f.Since != nil && f.Until != nil && f.Since.After(*f.Until) {
		return domain.Invalidf("audit filter: since is after until")
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	return nil
}

// Matches reports whether e satisfies every constraint of f. Pagination is
// not considered.
func (f *Filter) Matches(e *Entry) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.ToolName != "" && e.ToolName != f.ToolName {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}
