package topology

import (
	"fmt"
	"strings"

	"mongorunner/internal/domain"
)

// NodeType tags a node with the kind of object it stands for.
type NodeType string

const (
	NodeTypeConnection NodeType = "CONNECTION"
	NodeTypeDatabases  NodeType = "DATABASES"
	NodeTypeDatabase   NodeType = "DATABASE"
	NodeTypeCollection NodeType = "COLLECTION"
	NodeTypeIndexes    NodeType = "INDEXES"
	NodeTypeIndex      NodeType = "INDEX"
	NodeTypeFields     NodeType = "FIELDS"
	NodeTypeField      NodeType = "FIELD"
)

// Node is one entry of the display tree. Which child slice is populated
// depends on Type: DATABASES, INDEXES, FIELDS and CONNECTION use Children,
// DATABASE uses Collections, COLLECTION keeps Indexes and Attributes and
// grows its group nodes only when asked.
type Node struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Type   NodeType `json:"type"`
	Detail string   `json:"detail,omitempty"` // index key document or field type

	Children    []*Node `json:"children,omitempty"`
	Collections []*Node `json:"collections,omitempty"`
	Indexes     []*Node `json:"indexes,omitempty"`
	Attributes  []*Node `json:"attributes,omitempty"`
}

// Rebuild converts a raw topology into display nodes. It never fails: a nil
// topology yields an empty DATABASES node.
func Rebuild(raw *domain.Topology) []*Node {
	dbs := &Node{ID: "databases", Name: "Databases", Type: NodeTypeDatabases}
	if raw == nil {
		return []*Node{dbs}
	}

	for _, d := range raw.Databases {
		dbNode := &Node{
			ID:   fmt.Sprintf("db:%s", d.Name),
			Name: d.Name,
			Type: NodeTypeDatabase,
		}
		for _, c := range d.Collections {
			colNode := &Node{
				ID:   fmt.Sprintf("col:%s.%s", d.Name, c.Name),
				Name: c.Name,
				Type: NodeTypeCollection,
			}
			for _, idx := range c.Indexes {
				colNode.Indexes = append(colNode.Indexes, &Node{
					ID:     fmt.Sprintf("idx:%s.%s.%s", d.Name, c.Name, idx.Name),
					Name:   idx.Name,
					Type:   NodeTypeIndex,
					Detail: idx.Keys,
				})
			}
			dbNode.Collections = append(dbNode.Collections, colNode)
		}
		dbs.Children = append(dbs.Children, dbNode)
	}
	return []*Node{dbs}
}

// Children materializes the children of node. COLLECTION nodes get an
// "Indexes" group and an "Attributes" group, each only when non-empty.
func Children(node *Node) []*Node {
	if node == nil {
		return nil
	}
	switch node.Type {
	case NodeTypeConnection, NodeTypeDatabases, NodeTypeIndexes, NodeTypeFields:
		return node.Children
	case NodeTypeDatabase:
		return node.Collections
	case NodeTypeCollection:
		var groups []*Node
		if len(node.Indexes) > 0 {
			groups = append(groups, &Node{
				ID:       node.ID + "/indexes",
				Name:     "Indexes",
				Type:     NodeTypeIndexes,
				Children: node.Indexes,
			})
		}
		if len(node.Attributes) > 0 {
			groups = append(groups, &Node{
				ID:       node.ID + "/attributes",
				Name:     "Attributes",
				Type:     NodeTypeFields,
				Children: node.Attributes,
			})
		}
		return groups
	}
	return nil
}

const connectionPrefix = "conn:"

// ConnectionID returns the connection id behind a CONNECTION node, or "".
func ConnectionID(n *Node) string {
	if n.Type != NodeTypeConnection {
		return ""
	}
	return strings.TrimPrefix(n.ID, connectionPrefix)
}

// Expandable reports whether the tree view should offer to expand node.
func Expandable(node *Node) bool {
	return len(Children(node)) > 0
}

// Walk visits every node reachable through Children, depth first.
func Walk(nodes []*Node, fn func(depth int, n *Node)) {
	var visit func(depth int, n *Node)
	visit = func(depth int, n *Node) {
		fn(depth, n)
		for _, c := range Children(n) {
			visit(depth+1, c)
		}
	}
	for _, n := range nodes {
		visit(0, n)
	}
}

func fieldNodes(prefix string, attrs []domain.FieldInfo) []*Node {
	out := make([]*Node, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, &Node{
			ID:     prefix + "/field:" + a.Name,
			Name:   a.Name,
			Type:   NodeTypeField,
			Detail: a.Type,
		})
	}
	return out
}
