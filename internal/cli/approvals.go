package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mongorunner/internal/domain"
	"mongorunner/internal/storage"
)

func newApprovalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Decide destructive actions requested by a running MCP server",
		Long: `Destructive MCP tool calls (dropping databases, collections or indexes,
deleting connections) wait until a human approves them. A server started with
"mongorunner serve" records each request in the shared database; these commands
list and decide them.`,
	}
	cmd.AddCommand(newApprovalsListCommand())
	cmd.AddCommand(newApprovalsDecideCommand("approve", "Approve a pending action", "Approved", true))
	cmd.AddCommand(newApprovalsDecideCommand("reject", "Reject a pending action", "Rejected", false))
	return cmd
}

func openApprovals(cmd *cobra.Command) (*storage.DB, *storage.ApprovalStore, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.New(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, storage.NewApprovalStore(db), nil
}

func newApprovalsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending approvals",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, store, err := openApprovals(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			pending, err := store.ListPendingApprovals()
			if err != nil {
				return err
			}
			renderApprovals(cmd.OutOrStdout(), pending)
			return nil
		},
	}
}

func newApprovalsDecideCommand(verb, short, done string, approved bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, store, err := openApprovals(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.ResolveApproval(args[0], approved); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, args[0])
			return nil
		},
	}
}

func renderApprovals(w io.Writer, pending []domain.PendingApproval) {
	if len(pending) == 0 {
		fmt.Fprintln(w, "No pending approvals.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Tool", "Description", "Requested"})
	for _, a := range pending {
		t.AppendRow(table.Row{a.ID, a.Tool, a.Description, a.CreatedAt})
	}
	t.Render()
}
