package audit

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/keepup/cowork/internal/domain"
)

func TestEntryUnmarshalLegacy(t *testing.T) {
	raw := `{"entryId":"e1","sessionId":"s1","timestamp":"2025-01-02T03:04:05Z","action":"policy_decision",
		"toolName":"file.write:a","decision":"deny","ruleId":"r9","outcome":"denied"}`
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.PolicyDecision != "deny" || e.PolicyRuleID != "r9" {
		t.Errorf("legacy keys not upgraded: %+v", e)
	}
	if e.SchemaVersion != 1 {
		t.Errorf("schemaVersion = %d, want 1", e.SchemaVersion)
	}
	if e.RiskTags == nil {
		t.Error("riskTags should be non-nil")
	}
}

func TestEntryUnmarshalCurrent(t *testing.T) {
	score := 0.4
	in := Entry{
		ID: "e2", SessionID: "s1", Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Action: ActionPolicyDecision, PolicyDecision: "allow", PolicyRuleID: "r1",
		RiskTags: []string{"delete"}, RiskScore: &score, Outcome: OutcomeSuccess, SchemaVersion: SchemaVersion,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Entry
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.PolicyDecision != "allow" || out.PolicyRuleID != "r1" || out.SchemaVersion != SchemaVersion {
		t.Errorf("round trip lost fields: %+v", out)
	}
	if out.RiskScore == nil || *out.RiskScore != score {
		t.Errorf("riskScore = %v", out.RiskScore)
	}
}

func TestFilterNormalize(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)
	tests := []struct {
		name    string
		f       Filter
		wantErr bool
		limit   int
	}{
		{"zero gets default", Filter{}, false, DefaultLimit},
		{"explicit limit", Filter{Limit: 10}, false, 10},
		{"max limit", Filter{Limit: MaxLimit}, false, MaxLimit},
		{"over max", Filter{Limit: MaxLimit + 1}, true, 0},
		{"negative limit", Filter{Limit: -1}, true, 0},
		{"negative offset", Filter{Offset: -5}, true, 0},
		{"unknown action", Filter{Action: "drop_table"}, true, 0},
		{"since after until", Filter{Since: &now, Until: &earlier}, true, 0},
		{"ordered range", Filter{Since: &earlier, Until: &now}, false, DefaultLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.f
			err := f.Normalize()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("Normalize() = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Limit != tt.limit {
				t.Errorf("limit = %d, want %d", f.Limit, tt.limit)
			}
		})
	}
}

func TestFilterMatches(t *testing.T) {
	ts := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)
	e := &Entry{SessionID: "s", TaskID: "t", ToolName: "x", Action: ActionPolicyDecision, Timestamp: ts}
	before, after := ts.Add(-time.Minute), ts.Add(time.Minute)
	cases := []struct {
		f    Filter
		want bool
	}{
		{Filter{}, true},
		{Filter{SessionID: "s", TaskID: "t", ToolName: "x", Action: ActionPolicyDecision}, true},
		{Filter{SessionID: "other"}, false},
		{Filter{Action: ActionTaskCreate}, false},
		{Filter{Since: &before, Until: &after}, true},
		{Filter{Since: &after}, false},
		{Filter{Until: &before}, false},
		{Filter{Since: &ts, Until: &ts}, true},
	}
	for i, c := range cases {
		if got := c.f.Matches(e); got != c.want {
			t.Errorf("case %d: Matches = %v, want %v", i, got, c.want)
		}
	}
}

func TestStatsAdd(t *testing.T) {
	s := NewStats()
	s.Add(&Entry{Action: ActionPolicyDecision, ToolName: "a", Outcome: OutcomeSuccess})
	s.Add(&Entry{Action: ActionPolicyDecision, Outcome: OutcomeDenied})
	if s.Total != 2 || s.ByAction["policy_decision"] != 2 {
		t.Errorf("stats = %+v", s)
	}
	if s.ByTool["a"] != 1 || s.ByTool[UnknownTool] != 1 {
		t.Errorf("byTool = %v", s.ByTool)
	}
	if s.ByOutcome["success"] != 1 || s.ByOutcome["denied"] != 1 {
		t.Errorf("byOutcome = %v", s.ByOutcome)
	}
}
