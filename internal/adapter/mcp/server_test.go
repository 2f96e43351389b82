package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cwmcp "github.com/keepup/cowork/internal/adapter/mcp"
	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/action"
	"github.com/keepup/cowork/internal/domain/approval"
	"github.com/keepup/cowork/internal/domain/policy"
)

// --- Mocks ---

type mockGate struct {
	gotSession string
	gotTask    string
	gotReq     action.Request
	out        *policy.Outcome
	err        error
}

func (m *mockGate) CheckAction(_ context.Context, sessionID, taskID string, req action.Request) (*policy.Outcome, error) {
	m.gotSession, m.gotTask, m.gotReq = sessionID, taskID, req
	return m.out, m.err
}

type mockApprovals struct {
	items []approval.Approval
}

func (m *mockApprovals) Get(_ context.Context, id string) (*approval.Approval, error) {
	for i := range m.items {
		if m.items[i].ID == id {
			return &m.items[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockApprovals) ListBySession(_ context.Context, sessionID string) ([]approval.Approval, error) {
	out := []approval.Approval{}
	for _, a := range m.items {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func newServer(deps cwmcp.ServerDeps) *cwmcp.Server {
	return cwmcp.NewServer(cwmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)
}

func call(t *testing.T, s *cwmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	res, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	text, ok := res.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	tools := newServer(cwmcp.ServerDeps{}).MCPServer().ListTools()
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}
	for _, name := range []string{"check_action", "get_approval", "list_approvals"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestHandleCheckAction(t *testing.T) {
	gate := &mockGate{out: &policy.Outcome{
		Kind:     policy.OutcomeDenied,
		Decision: policy.Decision{Decision: policy.VerdictDeny, RiskTags: []string{"network"}},
	}}
	s := newServer(cwmcp.ServerDeps{Gate: gate})

	res := call(t, s, "check_action", map[string]any{
		"session_id": "s1",
		"task_id":    "t1",
		"action":     map[string]any{"kind": "network", "host": "example.com"},
	})
	if res.IsError {
		t.Fatalf("tool returned error: %v", res.Content)
	}
	if gate.gotSession != "s1" || gate.gotTask != "t1" {
		t.Errorf("ids = %q/%q", gate.gotSession, gate.gotTask)
	}
	if gate.gotReq.Kind != action.KindNetwork || gate.gotReq.Host != "example.com" {
		t.Errorf("request = %+v", gate.gotReq)
	}

	var out policy.Outcome
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Kind != policy.OutcomeDenied {
		t.Errorf("kind = %q", out.Kind)
	}
}

func TestHandleCheckActionErrors(t *testing.T) {
	tests := []struct {
		name string
		deps cwmcp.ServerDeps
		args map[string]any
	}{
		{"no gate", cwmcp.ServerDeps{}, map[string]any{"session_id": "s1", "action": map[string]any{"kind": "network"}}},
		{"missing session", cwmcp.ServerDeps{Gate: &mockGate{}}, map[string]any{"action": map[string]any{"kind": "network"}}},
		{"missing action", cwmcp.ServerDeps{Gate: &mockGate{}}, map[string]any{"session_id": "s1"}},
		{"malformed action", cwmcp.ServerDeps{Gate: &mockGate{}}, map[string]any{"session_id": "s1", "action": "not an object"}},
		{"unknown session", cwmcp.ServerDeps{Gate: &mockGate{err: domain.ErrNotFound}}, map[string]any{"session_id": "s1", "action": map[string]any{"kind": "network", "host": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := call(t, newServer(tt.deps), "check_action", tt.args); !res.IsError {
				t.Fatalf("expected error result, got %v", res.Content)
			}
		})
	}
}

func TestHandleCheckActionUnknownField(t *testing.T) {
	gate := &mockGate{out: &policy.Outcome{Kind: policy.OutcomeAllowed}}
	s := newServer(cwmcp.ServerDeps{Gate: gate})

	res := call(t, s, "check_action", map[string]any{
		"session_id": "s1",
		"action": map[string]any{
			"kind":     "file",
			"path":     "out.bin",
			"intent":   "write",
			"filesize": 103809024,
		},
	})
	if !res.IsError {
		t.Fatalf("expected error result, got %v", res.Content)
	}
	if gate.gotSession != "" {
		t.Errorf("gate reached with %+v", gate.gotReq)
	}
}

func TestHandleApprovals(t *testing.T) {
	deps := cwmcp.ServerDeps{Approvals: &mockApprovals{items: []approval.Approval{
		{ID: "a1", SessionID: "s1", Status: approval.StatusPending, RiskTags: []string{}},
		{ID: "a2", SessionID: "s2", Status: approval.StatusApproved, RiskTags: []string{}},
	}}}
	s := newServer(deps)

	res := call(t, s, "get_approval", map[string]any{"approval_id": "a2"})
	if res.IsError {
		t.Fatalf("get_approval error: %v", res.Content)
	}
	var a approval.Approval
	if err := json.Unmarshal([]byte(resultText(t, res)), &a); err != nil {
		t.Fatal(err)
	}
	if a.Status != approval.StatusApproved {
		t.Errorf("status = %q", a.Status)
	}

	if res := call(t, s, "get_approval", map[string]any{"approval_id": "nope"}); !res.IsError {
		t.Error("expected error for unknown approval")
	}

	res = call(t, s, "list_approvals", map[string]any{"session_id": "s1"})
	if res.IsError {
		t.Fatalf("list_approvals error: %v", res.Content)
	}
	var body struct {
		Approvals []approval.Approval `json:"approvals"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Approvals) != 1 || body.Approvals[0].ID != "a1" {
		t.Errorf("approvals = %+v", body.Approvals)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := cwmcp.AuthMiddleware("secret", ok)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "Authorization", "Bearer nope", http.StatusForbidden},
		{"bearer", "Authorization", "Bearer secret", http.StatusNoContent},
		{"bare key", "Authorization", "secret", http.StatusNoContent},
		{"key header", cwmcp.APIKeyHeader, "secret", http.StatusNoContent},
		{"wrong key header", cwmcp.APIKeyHeader, "nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if cwmcp.AuthMiddleware("", ok) == nil {
		t.Fatal("disabled auth must return the handler")
	}
}
