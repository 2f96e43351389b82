// Package approval defines the human-confirmation records created when a
// policy answers allow_with_confirm.
package approval

import (
	"fmt"
	"time"

	"github.com/keepup/cowork/internal/domain"
)

// Status is the lifecycle state of an approval.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Approval is a pending or resolved confirmation request. Action holds the
// canonical action description, identical to the audit toolName.
type Approval struct {
	ID         string     `json:"approvalId"`
	SessionID  string     `json:"sessionId"`
	TaskID     string     `json:"taskId,omitempty"`
	Action     string     `json:"action"`
	RiskTags   []string   `json:"riskTags"`
	Reason     string     `json:"reason,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// ResolveRequest is the body of a resolution call.
type ResolveRequest struct {
	Status Status `json:"status" validate:"required,oneof=approved rejected"`
}

// Validate checks that the requested status is terminal.
func (r *ResolveRequest) Validate() error {
	if err := domain.ValidateStruct(r); err != nil {
		return fmt.Errorf("approval: %w", err)
	}
	return nil
}

// Notification event types published on a session's channel.
const (
	EventApprovalRequired = "APPROVAL_REQUIRED"
	EventApprovalResolved = "APPROVAL_RESOLVED"
)

// RequiredEvent is the APPROVAL_REQUIRED payload.
type RequiredEvent struct {
	ApprovalID string   `json:"approvalId"`
	Action     string   `json:"action"`
	RiskTags   []string `json:"riskTags"`
	Reason     string   `json:"reason,omitempty"`
}

// ResolvedEvent is the APPROVAL_RESOLVED payload.
type ResolvedEvent struct {
	ApprovalID string `json:"approvalId"`
	Status     Status `json:"status"`
}
