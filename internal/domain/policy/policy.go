// Package policy defines the domain model for the action gate's policy layer.
// A policy maps file, network and connector actions to a verdict using an
// ordered rule list with per-kind defaults.
package policy

import (
	"errors"
	"fmt"

	"github.com/keepup/cowork/internal/domain/action"
)

// Verdict is the closed set of outcomes a rule evaluation can produce.
type Verdict string

const (
	VerdictAllow            Verdict = "allow"
	VerdictAllowWithConfirm Verdict = "allow_with_confirm"
	VerdictDeny             Verdict = "deny"
)

// ErrUnknownVerdict is returned wherever a verdict outside the closed set is
// observed. It is never interpreted as allow.
var ErrUnknownVerdict = errors.New("policy: unknown verdict")

// Valid reports whether v is one of the three known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAllow, VerdictAllowWithConfirm, VerdictDeny:
		return true
	}
	return false
}

// Decision is the evaluator's answer for one action.
type Decision struct {
	Decision Verdict  `json:"decision"`
	RuleID   string   `json:"ruleId,omitempty"`
	RiskTags []string `json:"riskTags"`
	Reason   string   `json:"reason,omitempty"`
}

// Config is a complete policy document.
type Config struct {
	Version     int      `json:"version"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Defaults    Defaults `json:"defaults"`
	Rules       []Rule   `json:"rules"`
}

// CurrentVersion is the only policy document version understood.
const CurrentVersion = 1

// Defaults hold the verdict applied per action kind when no rule matches.
type Defaults struct {
	File      Verdict `json:"file"`
	Network   Verdict `json:"network"`
	Connector Verdict `json:"connector"`
}

// For returns the default verdict for an action kind.
func (d Defaults) For(kind action.Kind) (Verdict, error) {
	switch kind {
	case action.KindFile:
		return d.File, nil
	case action.KindNetwork:
		return d.Network, nil
	case action.KindConnector:
		return d.Connector, nil
	}
	return "", fmt.Errorf("policy: no default for action kind %q", kind)
}

// Rule matches a subset of actions and assigns them a verdict.
type Rule struct {
	ID       string   `json:"id"`
	Match    Match    `json:"match"`
	Decision Verdict  `json:"decision"`
	RiskTags []string `json:"riskTags,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Match is a conjunction of conditions; empty conditions match anything.
type Match struct {
	Kind                  action.Kind     `json:"kind"`
	Intents               []action.Intent `json:"intents,omitempty"`
	Paths                 []string        `json:"paths,omitempty"`
	Hosts                 []string        `json:"hosts,omitempty"`
	ConnectorScopeAllowed *bool           `json:"connectorScopeAllowed,omitempty"`
	MinFileSizeBytes      *int64          `json:"minFileSizeBytes,omitempty"`
}

// Source names the tier a resolved policy came from.
type Source string

const (
	SourceRepo     Source = "repo"
	SourceSettings Source = "settings"
	SourceDefault  Source = "default"
	SourceDenyAll  Source = "deny_all"
)

// Resolution is the effective policy for a workspace and its provenance.
type Resolution struct {
	Config      *Config `json:"policy"`
	Source      Source  `json:"source"`
	Reason      string  `json:"reason,omitempty"`
	ContentHash string  `json:"contentHash"`
}

// SettingsKey is the settings-store key holding the settings-tier policy.
const SettingsKey = "policy"
