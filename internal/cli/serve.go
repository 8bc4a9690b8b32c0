package cli

import (
	"log"
	"time"

	"github.com/spf13/cobra"

	"mongorunner/internal/events"
	mcpserver "mongorunner/internal/mcp"
	"mongorunner/internal/service"
	"mongorunner/internal/storage"
)

func newServeCommand() *cobra.Command {
	var approvalTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdin/stdout",
		Long: `Serve exposes the command surface, buffers and connection trees to AI
agents over the Model Context Protocol. Stdout carries the protocol, so logs go
to stderr. Destructive tools wait for "mongorunner approvals approve <id>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			log.SetOutput(cmd.ErrOrStderr())

			bus := events.NewBus()
			notices := &service.RecordingNotifier{}
			approval := mcpserver.NewApprovalQueue(bus)
			approval.Timeout = approvalTimeout

			rt, err := NewRuntime(cfg, RuntimeOptions{Bus: bus, Prompter: approval, Notifier: notices})
			if err != nil {
				return err
			}
			defer rt.Close()

			// Decisions come from another process through the shared database.
			approval.SetStore(storage.NewApprovalStore(rt.DB))

			if err := rt.Start(cmd.Context()); err != nil {
				return err
			}

			srv := mcpserver.New(mcpserver.Deps{
				Commands: rt.Commands,
				Registry: rt.Registry,
				Table:    rt.Table,
				Host:     rt.Host,
				Tree:     rt.Tree,
				Notices:  notices,
				Approval: approval,
			})
			return srv.ServeStdio()
		},
	}

	cmd.Flags().DurationVar(&approvalTimeout, "approval-timeout", 2*time.Minute, "How long destructive tools wait for a decision")
	return cmd
}
