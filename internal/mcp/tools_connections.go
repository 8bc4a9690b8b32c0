package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"mongorunner/internal/service"
)

func (s *Server) registerConnectionTools() {
	s.mcp.AddTool(mcp.NewTool("list_connections",
		mcp.WithDescription("List stored MongoDB connections with their live status"),
	), s.handleListConnections)

	s.mcp.AddTool(mcp.NewTool("create_connection",
		mcp.WithDescription("Store a new MongoDB connection. The password goes to the OS keychain."),
		mcp.WithString("name", mcp.Description("Display name"), mcp.Required()),
		mcp.WithString("host", mcp.Description("Host, or a full mongodb:// / mongodb+srv:// URI"), mcp.Required()),
		mcp.WithNumber("port", mcp.Description("Port (default 27017)")),
		mcp.WithString("database", mcp.Description("Default database for new runner buffers")),
		mcp.WithString("username", mcp.Description("Username")),
		mcp.WithString("password", mcp.Description("Password")),
		mcp.WithBoolean("activeOnStartup", mcp.Description("Connect when mongorunner starts")),
	), s.handleCreateConnection)

	s.mcp.AddTool(mcp.NewTool("delete_connection",
		mcp.WithDescription("Delete a stored connection. 🛑 Requires user approval."),
		mcp.WithString(argConnection, mcp.Description(argDescriptions[argConnection]), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeleteConnection)
}

type connectionSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database,omitempty"`
	Status   string `json:"status"`
}

func (s *Server) handleListConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns, err := s.registry.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	out := make([]connectionSummary, len(conns))
	for i, c := range conns {
		out[i] = connectionSummary{
			ID:       c.ID,
			Name:     c.Name,
			Host:     c.Host,
			Port:     c.Port,
			Database: c.Database,
			Status:   string(s.registry.Status(c.ID)),
		}
	}
	return jsonResult(out)
}

func (s *Server) handleCreateConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	input := service.ConnectionInput{
		Name:            getString(args, "name"),
		Host:            getString(args, "host"),
		Port:            int(getFloat(args, "port", 27017)),
		Database:        getString(args, "database"),
		Username:        getString(args, "username"),
		Password:        getString(args, "password"),
		ActiveOnStartup: getBool(args, "activeOnStartup"),
	}
	if input.Name == "" || input.Host == "" {
		return errorResult("name and host are required"), nil
	}
	conn, err := s.registry.CreateConnection(input)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(connectionSummary{
		ID: conn.ID, Name: conn.Name, Host: conn.Host, Port: conn.Port, Database: conn.Database,
		Status: string(s.registry.Status(conn.ID)),
	})
}

func (s *Server) handleDeleteConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString(argConnection, "")
	conn, err := s.registry.GetConnection(id)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if s.approval != nil {
		approved, err := s.approval.Request(ctx, "delete_connection", fmt.Sprintf("Delete connection %s (%s)", conn.Name, conn.Host))
		if err != nil || !approved {
			return textResult("Delete connection rejected by user"), nil
		}
	}
	if err := s.registry.DeleteConnection(ctx, id); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(fmt.Sprintf("Deleted connection %s", conn.Name)), nil
}
