package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"mongorunner/internal/domain"
	"mongorunner/internal/service"
)

// Tool argument names, shared with service.Event's JSON names.
const (
	argConnection = "connectionId"
	argDatabase   = "databaseName"
	argCollection = "collectionName"
	argIndex      = "indexName"
	argBuffer     = "bufferId"
	argCommand    = "command"
	argInput      = "input"
)

var argDescriptions = map[string]string{
	argConnection: "Stored connection ID (see list_connections)",
	argDatabase:   "Database name",
	argCollection: "Collection name",
	argIndex:      "Index name",
	argBuffer:     "Runner buffer ID returned by launch_editor",
	argCommand:    "JavaScript statement to run; the only global is `db`",
	argInput:      "Text answering the command's prompt",
}

// commandTool exposes one service command as an MCP tool.
type commandTool struct {
	name        string
	command     string
	description string
	required    []string
	optional    []string
	destructive bool
}

var commandTools = []commandTool{
	{
		name: "launch_editor", command: service.CmdLaunchEditor,
		description: "Open a runner buffer bound to a connection and database. Returns the buffer ID used by execute_command.",
		required:    []string{argConnection},
		optional:    []string{argDatabase, argCollection},
	},
	{
		name: "execute_command", command: service.CmdExecuteCommand,
		description: "Run one statement in a runner buffer's session and append the result to its output buffer",
		required:    []string{argBuffer, argCommand},
	},
	{
		name: "query_planner", command: service.CmdQueryPlanner,
		description: "Run a statement (typically ending in .explain()) in a runner buffer's session",
		required:    []string{argBuffer, argCommand},
	},
	{
		name: "execute_all_commands", command: service.CmdExecuteAllCommands,
		description: "Run every top-level statement of a runner buffer, in order",
		required:    []string{argBuffer},
	},
	{
		name: "clear_output", command: service.CmdClearOutput,
		description: "Empty the output buffer of a runner buffer",
		required:    []string{argBuffer},
	},
	{
		name: "connect", command: service.CmdHostConnect,
		description: "Connect a stored connection and load its databases",
		required:    []string{argConnection},
	},
	{
		name: "disconnect", command: service.CmdHostDisconnect,
		description: "Close a live connection",
		required:    []string{argConnection},
	},
	{
		name: "refresh_connection", command: service.CmdHostRefresh,
		description: "Reload the databases, collections and indexes of a live connection",
		required:    []string{argConnection},
	},
	{
		name: "refresh_all", command: service.CmdRefresh,
		description: "Reload every live connection",
	},
	{
		name: "server_status", command: service.CmdServerStatus,
		description: "Show serverStatus of a live connection",
		required:    []string{argConnection},
	},
	{
		name: "server_build_info", command: service.CmdServerBuildInfo,
		description: "Show buildInfo of a live connection",
		required:    []string{argConnection},
	},
	{
		name: "create_collection", command: service.CmdCreateCollection,
		description: "Create a collection; input is the collection name",
		required:    []string{argConnection, argDatabase, argInput},
	},
	{
		name: "delete_database", command: service.CmdDeleteDatabase,
		description: "Drop a database. 🛑 Requires user approval.",
		required:    []string{argConnection, argDatabase},
		destructive: true,
	},
	{
		name: "delete_collection", command: service.CmdDeleteCollection,
		description: "Drop a collection. 🛑 Requires user approval.",
		required:    []string{argConnection, argDatabase, argCollection},
		destructive: true,
	},
	{
		name: "get_collection_attributes", command: service.CmdGetCollectionAttributes,
		description: "Sample documents of a collection and list their top-level fields with types",
		required:    []string{argConnection, argDatabase, argCollection},
	},
	{
		name: "get_indexes", command: service.CmdGetIndex,
		description: "List the indexes of a collection",
		required:    []string{argConnection, argDatabase, argCollection},
	},
	{
		name: "create_index", command: service.CmdCreateIndex,
		description: `Create an index; input is the key document, e.g. {"fieldA": 1, "fieldB": -1}`,
		required:    []string{argConnection, argDatabase, argCollection, argInput},
	},
	{
		name: "delete_index", command: service.CmdDeleteIndex,
		description: "Drop an index. 🛑 Requires user approval.",
		required:    []string{argConnection, argDatabase, argCollection, argIndex},
		destructive: true,
	},
	{
		name: "simple_query", command: service.CmdSimpleQuery,
		description: "Find documents matching an Extended JSON filter given as input",
		required:    []string{argConnection, argDatabase, argCollection, argInput},
	},
	{
		name: "find_first_docs", command: service.CmdFindFirst20Docs,
		description: "Show the first documents of a collection",
		required:    []string{argConnection, argDatabase, argCollection},
	},
}

func (s *Server) registerCommandTools() {
	for _, ct := range commandTools {
		opts := []mcp.ToolOption{mcp.WithDescription(ct.description)}
		for _, a := range ct.required {
			opts = append(opts, mcp.WithString(a, mcp.Description(argDescriptions[a]), mcp.Required()))
		}
		for _, a := range ct.optional {
			opts = append(opts, mcp.WithString(a, mcp.Description(argDescriptions[a])))
		}
		if ct.destructive {
			opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}))
		}
		s.mcp.AddTool(mcp.NewTool(ct.name, opts...), s.commandHandler(ct.command))
	}
}

// commandResponse is what a command tool returns.
type commandResponse struct {
	service.Result
	Notices []service.Notice `json:"notices,omitempty"`
}

func (s *Server) commandHandler(command string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		ev := service.Event{
			ConnectionID:   getString(args, argConnection),
			DatabaseName:   getString(args, argDatabase),
			CollectionName: getString(args, argCollection),
			IndexName:      getString(args, argIndex),
			BufferID:       domain.BufferRef(getString(args, argBuffer)),
			Command:        getString(args, argCommand),
			Input:          getString(args, argInput),
		}

		res, err := s.commands.Run(ctx, command, ev)
		notices := s.notices.Drain()
		if err != nil {
			out := errorResult(err.Error())
			for _, n := range notices {
				out.Content = append(out.Content, mcp.TextContent{Type: "text", Text: n.Level + ": " + n.Message})
			}
			return out, nil
		}
		return jsonResult(commandResponse{Result: res, Notices: notices})
	}
}
