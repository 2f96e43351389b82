package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/action"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.checkActionTool(),
		s.getApprovalTool(),
		s.listApprovalsTool(),
	)
}

func (s *Server) checkActionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("check_action",
		mcplib.WithDescription("Ask the gate whether an action may run. Returns allowed, denied or approval_required with the pending approval."),
		mcplib.WithString("session_id",
			mcplib.Required(),
			mcplib.Description("The session the action belongs to"),
		),
		mcplib.WithString("task_id",
			mcplib.Description("Optional task the action belongs to"),
		),
		mcplib.WithObject("action",
			mcplib.Required(),
			mcplib.Description(`The action: {"kind":"file","path":...,"intent":...}, {"kind":"network","host":...} or {"kind":"connector","connectorScopeAllowed":...}`),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCheckAction}
}

func (s *Server) getApprovalTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_approval",
		mcplib.WithDescription("Get an approval by ID, including its current status"),
		mcplib.WithString("approval_id",
			mcplib.Required(),
			mcplib.Description("The approval ID to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetApproval}
}

func (s *Server) listApprovalsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_approvals",
		mcplib.WithDescription("List the approvals of a session, newest first"),
		mcplib.WithString("session_id",
			mcplib.Required(),
			mcplib.Description("The session ID"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListApprovals}
}

func (s *Server) handleCheckAction(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Gate == nil {
		return mcplib.NewToolResultError("gate not configured"), nil
	}
	args := req.GetArguments()
	sessionID, ok := args["session_id"].(string)
	if !ok || sessionID == "" {
		return mcplib.NewToolResultError("session_id is required"), nil
	}
	taskID, _ := args["task_id"].(string)

	raw, ok := args["action"]
	if !ok || raw == nil {
		return mcplib.NewToolResultError("action is required"), nil
	}
	var ar action.Request
	if err := remarshal(raw, &ar); err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid action", err), nil
	}

	out, err := s.deps.Gate.CheckAction(ctx, sessionID, taskID, ar)
	if err != nil {
		return toolError(fmt.Sprintf("check action for session %s", sessionID), err), nil
	}
	return toolResultJSON(out)
}

func (s *Server) handleGetApproval(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Approvals == nil {
		return mcplib.NewToolResultError("approval reader not configured"), nil
	}
	id, ok := req.GetArguments()["approval_id"].(string)
	if !ok || id == "" {
		return mcplib.NewToolResultError("approval_id is required"), nil
	}
	a, err := s.deps.Approvals.Get(ctx, id)
	if err != nil {
		return toolError(fmt.Sprintf("get approval %s", id), err), nil
	}
	return toolResultJSON(a)
}

func (s *Server) handleListApprovals(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Approvals == nil {
		return mcplib.NewToolResultError("approval reader not configured"), nil
	}
	sessionID, ok := req.GetArguments()["session_id"].(string)
	if !ok || sessionID == "" {
		return mcplib.NewToolResultError("session_id is required"), nil
	}
	list, err := s.deps.Approvals.ListBySession(ctx, sessionID)
	if err != nil {
		return toolError(fmt.Sprintf("list approvals of %s", sessionID), err), nil
	}
	return toolResultJSON(map[string]any{"approvals": list})
}

// remarshal converts a decoded JSON argument into a typed value, rejecting
// unknown fields.
func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// toolError reports a failure as a tool-level error result so the calling
// agent sees it; protocol errors are reserved for transport problems.
func toolError(msg string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return mcplib.NewToolResultError(msg + ": not found")
	case errors.Is(err, domain.ErrValidation):
		return mcplib.NewToolResultError(msg + ": " + err.Error())
	default:
		return mcplib.NewToolResultErrorFromErr(msg, err)
	}
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
