package policy

import "github.com/keepup/cowork/internal/domain/approval"

// OutcomeKind is the caller-visible result of an authorization check.
type OutcomeKind string

const (
	OutcomeAllowed          OutcomeKind = "allowed"
	OutcomeApprovalRequired OutcomeKind = "approval_required"
	OutcomeDenied           OutcomeKind = "denied"
)

// Outcome wraps the decision and, for approval_required, the pending
// approval that was created.
type Outcome struct {
	Kind     OutcomeKind        `json:"kind"`
	Decision Decision           `json:"decision"`
	Approval *approval.Approval `json:"approval,omitempty"`
}
