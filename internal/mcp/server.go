package mcpserver

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mongorunner/internal/editor"
	"mongorunner/internal/service"
	"mongorunner/internal/topology"
)

// Server is the MCP server for mongorunner.
// It exposes the command surface, buffers and the topology tree so AI agents
// can run scripts against MongoDB.
type Server struct {
	mcp      *server.MCPServer
	approval *ApprovalQueue

	commands *service.Commands
	registry *service.Registry
	table    *service.SessionTable
	host     editor.Host
	tree     *topology.Synchronizer
	notices  *service.RecordingNotifier
}

// Deps holds everything the server exposes. Commands must have been built
// with Approval as its Prompter and Notices as its Notifier.
type Deps struct {
	Commands *service.Commands
	Registry *service.Registry
	Table    *service.SessionTable
	Host     editor.Host
	Tree     *topology.Synchronizer
	Notices  *service.RecordingNotifier
	Approval *ApprovalQueue
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	s := &Server{
		approval: deps.Approval,
		commands: deps.Commands,
		registry: deps.Registry,
		table:    deps.Table,
		host:     deps.Host,
		tree:     deps.Tree,
		notices:  deps.Notices,
	}
	if s.notices == nil {
		s.notices = &service.RecordingNotifier{}
	}

	s.mcp = server.NewMCPServer(
		"mongorunner-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerCommandTools()
	s.registerConnectionTools()
	s.registerBufferTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Println("[MCP] Starting stdio server...")
	return server.ServeStdio(s.mcp)
}

// MCP returns the underlying server, e.g. for an SSE transport.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// errorResult reports a failed tool call to the client without failing the
// protocol exchange.
func errorResult(text string) *mcp.CallToolResult {
	res := textResult(text)
	res.IsError = true
	return res
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func boolPtr(v bool) *bool { return &v }

func getFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func getString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func getBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
