package cli

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/spf13/cobra"

	"mongorunner/internal/domain"
	"mongorunner/internal/service"
	"mongorunner/internal/topology"
)

func newTreeCommand() *cobra.Command {
	var attributes []string

	cmd := &cobra.Command{
		Use:   "tree [connection...]",
		Short: "Print the databases, collections and indexes of connections",
		Long: `Tree connects the given connections (all stored ones when none are given)
and prints what it finds. Connections that fail to connect are reported on
stderr and left out.`,
		Example: `  mongorunner tree
  mongorunner tree local --attributes shop.orders`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFor(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			ids, err := treeTargets(rt, args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if _, err := rt.Commands.Run(ctx, service.CmdHostConnect, service.Event{ConnectionID: id}); err != nil {
					log.Printf("[CLI] connect %s: %v", id, err)
				}
			}
			for _, ns := range attributes {
				if err := sampleAttributes(cmd, rt, ids, ns); err != nil {
					return err
				}
			}

			renderTree(cmd.OutOrStdout(), rt.Tree)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&attributes, "attributes", nil, "Sample fields of <db>.<collection> into the tree (repeatable)")
	return cmd
}

func treeTargets(rt *Runtime, args []string) ([]string, error) {
	if len(args) == 0 {
		conns, err := rt.Registry.ListConnections()
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(conns))
		for i, c := range conns {
			ids[i] = c.ID
		}
		return ids, nil
	}
	ids := make([]string, 0, len(args))
	for _, a := range args {
		conn, err := rt.ResolveConnection(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, conn.ID)
	}
	return ids, nil
}

func sampleAttributes(cmd *cobra.Command, rt *Runtime, ids []string, ns string) error {
	dbName, collName, ok := splitNamespace(ns)
	if !ok {
		return fmt.Errorf("--attributes wants <db>.<collection>, got %q", ns)
	}
	for _, id := range ids {
		if rt.Registry.Status(id) != domain.ConnectStatusConnected {
			continue
		}
		ev := service.Event{ConnectionID: id, DatabaseName: dbName, CollectionName: collName}
		if _, err := rt.Commands.Run(cmd.Context(), service.CmdGetCollectionAttributes, ev); err != nil {
			log.Printf("[CLI] attributes of %s: %v", ns, err)
		}
	}
	return nil
}

// splitNamespace cuts "db.coll.name" at the first dot.
func splitNamespace(ns string) (dbName, collName string, ok bool) {
	dbName, collName, ok = strings.Cut(ns, ".")
	return dbName, collName, ok && dbName != "" && collName != ""
}

func renderTree(w io.Writer, tree *topology.Synchronizer) {
	roots := tree.Roots()
	if len(roots) == 0 {
		fmt.Fprintln(w, "No connections.")
		return
	}

	statuses := make(map[string]domain.ConnectStatus, len(roots))
	for _, r := range roots {
		id := topology.ConnectionID(r)
		statuses[id] = tree.Status(id)
	}

	l := list.NewWriter()
	l.SetOutputMirror(w)
	l.SetStyle(list.StyleConnectedRounded)

	level := 0
	tree.Walk(roots, func(depth int, n *topology.Node) {
		for ; level < depth; level++ {
			l.Indent()
		}
		for ; level > depth; level-- {
			l.UnIndent()
		}
		l.AppendItem(nodeLabel(n, statuses))
	})
	l.Render()
}

func nodeLabel(n *topology.Node, statuses map[string]domain.ConnectStatus) string {
	switch {
	case n.Type == topology.NodeTypeConnection:
		return fmt.Sprintf("%s [%s]", n.Name, statuses[topology.ConnectionID(n)])
	case n.Detail != "":
		return fmt.Sprintf("%s (%s)", n.Name, n.Detail)
	}
	return n.Name
}
