package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"mongorunner/internal/domain"
)

func (s *Server) registerBufferTools() {
	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List runner buffers with their connection, database and output buffer"),
	), s.handleListSessions)

	s.mcp.AddTool(mcp.NewTool("read_buffer",
		mcp.WithDescription("Read the text of a runner or output buffer"),
		mcp.WithString(argBuffer, mcp.Description("Buffer ID"), mcp.Required()),
	), s.handleReadBuffer)

	s.mcp.AddTool(mcp.NewTool("append_to_buffer",
		mcp.WithDescription("Append script text to a runner buffer, e.g. before execute_all_commands"),
		mcp.WithString(argBuffer, mcp.Description(argDescriptions[argBuffer]), mcp.Required()),
		mcp.WithString("text", mcp.Description("Text to append"), mcp.Required()),
	), s.handleAppendToBuffer)
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.table.Sessions())
}

func (s *Server) handleReadBuffer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := domain.BufferRef(req.GetString(argBuffer, ""))
	text, err := s.host.Text(ref)
	if err != nil {
		return errorResult(fmt.Sprintf("read buffer %s: %v", ref, err)), nil
	}
	return textResult(text), nil
}

func (s *Server) handleAppendToBuffer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := domain.BufferRef(req.GetString(argBuffer, ""))
	text := req.GetString("text", "")
	if _, ok := s.table.GetSession(ref); !ok {
		return errorResult(fmt.Sprintf("%v: %s", domain.ErrSessionNotFound, ref)), nil
	}
	end, err := s.host.End(ref)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if end.Character != 0 {
		text = "\n" + text
	}
	if err := s.host.InsertAt(ctx, ref, end, text); err != nil {
		return errorResult(err.Error()), nil
	}
	full, _ := s.host.Text(ref)
	return textResult(full), nil
}
