package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/keepup/cowork/internal/service"
)

const effectivePolicyURI = "cowork://policy/effective"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			effectivePolicyURI,
			"Effective Policy",
			mcplib.WithResourceDescription("The policy in force for the configured workspace, with its source and content hash"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleEffectivePolicy,
	)
}

func (s *Server) handleEffectivePolicy(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	text := `{"error":"policy reader not configured"}`
	if s.deps.Policies != nil {
		res := s.deps.Policies.Resolve(ctx, s.cfg.WorkspaceRoot, service.AuditContext{})
		data, err := json.Marshal(res)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
