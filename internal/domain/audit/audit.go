// Package audit provides the domain model for the append-only audit ledger.
package audit

import (
	"encoding/json"
	"time"
)

// Action is the closed set of ledger entry types.
type Action string

const (
	ActionPolicyDecision    Action = "policy_decision"
	ActionApprovalRequested Action = "approval_requested"
	ActionApprovalResolved  Action = "approval_resolved"
	ActionArtifactApply     Action = "artifact_apply"
	ActionArtifactRevert    Action = "artifact_revert"
	ActionTaskCreate        Action = "task_create"
	ActionStepCreate        Action = "step_create"
	ActionArtifactCreate    Action = "artifact_create"
	ActionWorkflowRun       Action = "workflow_run"
	ActionPreflightRun      Action = "preflight_run"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionPolicyDecision, ActionApprovalRequested, ActionApprovalResolved,
		ActionArtifactApply, ActionArtifactRevert, ActionTaskCreate, ActionStepCreate,
		ActionArtifactCreate, ActionWorkflowRun, ActionPreflightRun:
		return true
	}
	return false
}

// Outcome records how the audited operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeDenied  Outcome = "denied"
)

// SchemaVersion is the entry layout written by this build. Version 1 used
// the keys "decision" and "ruleId" for the policy fields.
const SchemaVersion = 2

// Entry is one immutable ledger record.
type Entry struct {
	ID             string          `json:"entryId"`
	SessionID      string          `json:"sessionId"`
	TaskID         string          `json:"taskId,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Action         Action          `json:"action"`
	ToolName       string          `json:"toolName,omitempty"`
	Input          map[string]any  `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	PolicyDecision string          `json:"policyDecision,omitempty"`
	PolicyRuleID   string          `json:"policyRuleId,omitempty"`
	RiskTags       []string        `json:"riskTags"`
	RiskScore      *float64        `json:"riskScore,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	DurationMs     *int64          `json:"durationMs,omitempty"`
	Outcome        Outcome         `json:"outcome"`
	SchemaVersion  int             `json:"schemaVersion"`
}

// UnmarshalJSON decodes both the current layout and version 1 entries,
// mapping the legacy policy keys onto the current fields.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	var aux struct {
		plain
		LegacyDecision string `json:"decision"`
		LegacyRuleID   string `json:"ruleId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Entry(aux.plain)
	if e.PolicyDecision == "" {
		e.PolicyDecision = aux.LegacyDecision
	}
	if e.PolicyRuleID == "" {
		e.PolicyRuleID = aux.LegacyRuleID
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = 1
	}
	if e.RiskTags == nil {
		e.RiskTags = []string{}
	}
	return nil
}

// Stats groups a session's entries along three independent dimensions.
type Stats struct {
	Total     int            `json:"total"`
	ByAction  map[string]int `json:"byAction"`
	ByTool    map[string]int `json:"byTool"`
	ByOutcome map[string]int `json:"byOutcome"`
}

// UnknownTool is the byTool bucket for entries without a toolName.
const UnknownTool = "unknown"

// NewStats returns zeroed stats with non-nil maps.
func NewStats() Stats {
	return Stats{ByAction: map[string]int{}, ByTool: map[string]int{}, ByOutcome: map[string]int{}}
}

// Add counts one entry in every grouping.
func (s *Stats) Add(e *Entry) {
	s.Total++
	s.ByAction[string(e.Action)]++
	tool := e.ToolName
	if tool == "" {
		tool = UnknownTool
	}
	s.ByTool[tool]++
	s.ByOutcome[string(e.Outcome)]++
}
