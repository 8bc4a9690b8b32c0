package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"mongorunner/internal/domain"
	"mongorunner/internal/topology"
)

const (
	uriTree         = "mongorunner://tree"
	uriSessions     = "mongorunner://sessions"
	uriBufferPrefix = "mongorunner://buffer/"
)

func (s *Server) registerResources() {
	// ── mongorunner://tree ─────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		uriTree,
		"Connection Tree",
		mcp.WithMIMEType("application/json"),
	), s.handleTreeResource)

	// ── mongorunner://sessions ─────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		uriSessions,
		"Runner Sessions",
		mcp.WithMIMEType("application/json"),
	), s.handleSessionsResource)

	// ── mongorunner://buffer/{bufferId} ────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			uriBufferPrefix+"{bufferId}",
			"Buffer Text",
		),
		s.handleBufferResource,
	)
}

// treeLine is one flattened, depth-annotated node of the topology tree.
type treeLine struct {
	Depth  int               `json:"depth"`
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Type   topology.NodeType `json:"type"`
	Detail string            `json:"detail,omitempty"`
	Status string            `json:"status,omitempty"` // CONNECTION nodes only
}

// flattenTree snapshots the whole tree, lazily expanded collections included.
func (s *Server) flattenTree() []treeLine {
	roots := s.tree.Roots()
	lines := []treeLine{}
	var connIDs []string
	s.tree.Walk(roots, func(depth int, n *topology.Node) {
		lines = append(lines, treeLine{Depth: depth, ID: n.ID, Name: n.Name, Type: n.Type, Detail: n.Detail})
		connIDs = append(connIDs, topology.ConnectionID(n))
	})
	// Status takes the lock Walk holds, so it is filled in afterwards.
	for i, id := range connIDs {
		if id != "" {
			lines[i].Status = string(s.tree.Status(id))
		}
	}
	return lines
}

func (s *Server) handleTreeResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, _ := json.MarshalIndent(s.flattenTree(), "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uriTree,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSessionsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, _ := json.MarshalIndent(s.table.Sessions(), "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uriSessions,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleBufferResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	ref := bufferIDFromURI(uri)
	if ref == "" {
		return nil, fmt.Errorf("could not extract bufferId from URI: %s", uri)
	}
	text, err := s.host.Text(ref)
	if err != nil {
		return nil, fmt.Errorf("read buffer %s: %w", ref, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     text,
		},
	}, nil
}

// bufferIDFromURI extracts the id from "mongorunner://buffer/{id}".
func bufferIDFromURI(uri string) domain.BufferRef {
	id, ok := strings.CutPrefix(uri, uriBufferPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return domain.BufferRef(id)
}
