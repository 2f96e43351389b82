// Package mcp exposes the action gate to agent runtimes as a Model Context
// Protocol server over streamable HTTP.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/keepup/cowork/internal/domain/action"
	"github.com/keepup/cowork/internal/domain/approval"
	"github.com/keepup/cowork/internal/domain/policy"
	"github.com/keepup/cowork/internal/service"
)

// Gate authorizes a single action.
type Gate interface {
	CheckAction(ctx context.Context, sessionID, taskID string, req action.Request) (*policy.Outcome, error)
}

// ApprovalReader reads the approval ledger.
type ApprovalReader interface {
	Get(ctx context.Context, id string) (*approval.Approval, error)
	ListBySession(ctx context.Context, sessionID string) ([]approval.Approval, error)
}

// PolicyReader resolves the effective policy of a workspace.
type PolicyReader interface {
	Resolve(ctx context.Context, workspaceRoot string, actx service.AuditContext) *policy.Resolution
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Name    string
	Version string
	// APIKey, when set, is required as a bearer token on every request.
	APIKey string
	// WorkspaceRoot backs the effective-policy resource.
	WorkspaceRoot string
}

// ServerDeps are the services the tools call into. Nil members make the
// corresponding tools report an error result.
type ServerDeps struct {
	Gate      Gate
	Approvals ApprovalReader
	Policies  PolicyReader
}

// Server wraps the MCP server and its HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer
}

// NewServer creates an MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	s.transport = mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithStateLess(true))
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP endpoint, behind API key auth when
// one is configured.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, s.transport)
}
