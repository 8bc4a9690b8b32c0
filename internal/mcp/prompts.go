package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("explore_collection",
		mcp.WithPromptDescription("Inspect a collection's shape, indexes and sample documents"),
		mcp.WithArgument("connectionId",
			mcp.ArgumentDescription("Stored connection ID"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("databaseName",
			mcp.ArgumentDescription("Database name"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("collectionName",
			mcp.ArgumentDescription("Collection name"),
			mcp.RequiredArgument(),
		),
	), s.handleExploreCollectionPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("write_script",
		mcp.WithPromptDescription("Write and run a MongoDB script in a runner buffer"),
		mcp.WithArgument("connectionId",
			mcp.ArgumentDescription("Stored connection ID"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("task",
			mcp.ArgumentDescription("What the script should do"),
			mcp.RequiredArgument(),
		),
	), s.handleWriteScriptPrompt)
}

func (s *Server) handleExploreCollectionPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	connID := req.Params.Arguments["connectionId"]
	db := req.Params.Arguments["databaseName"]
	col := req.Params.Arguments["collectionName"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Explore %s.%s", db, col),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Explore the collection "%[2]s.%[3]s" on connection %[1]s. Follow these steps:

1. Make sure the connection is live: read mongorunner://tree, and call connect if its status is not CONNECTED
2. Call get_collection_attributes to learn the top-level fields and their types
3. Call get_indexes to list the indexes
4. Call find_first_docs to look at real documents
5. Summarize the document shape, which queries the indexes support, and anything unusual`, connID, db, col),
				},
			},
		},
	}, nil
}

func (s *Server) handleWriteScriptPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	connID := req.Params.Arguments["connectionId"]
	task := req.Params.Arguments["task"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Script: %s", task),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Write a MongoDB script for this task: %s. Follow these steps:

1. Call launch_editor with connectionId %s (pass databaseName if the task names one) and keep the returned bufferRef
2. Run statements one at a time with execute_command; the only global is db, e.g. db.collection('orders').find({status: 'open'}).limit(5)
3. Results are appended to the session's output buffer and returned as text; a failing statement does not stop later ones
4. When the script works, append it to the runner buffer with append_to_buffer so the user can rerun it with execute_all_commands

Never drop databases, collections or indexes unless the task asks for it; those commands wait for user approval.`, task, connID),
				},
			},
		},
	}, nil
}
