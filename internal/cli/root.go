// Package cli provides the command-line interface for mongorunner.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mongorunner/internal/config"
)

// Version information (set at build time).
var Version = "0.1.0"

// configKey is used to store config in context.
type configKey struct{}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "mongorunner",
		Short: "MongoRunner - run MongoDB scripts from editor buffers",
		Long: `MongoRunner runs JavaScript against MongoDB connections.

Every top-level statement of a script runs in a fresh sandbox whose only
global is db, and each result is appended to an output buffer. The same
command surface is available to AI agents through an MCP stdio server.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))

			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && cfg.File != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", cfg.File)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	// Global persistent flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./mongorunner.yaml)")
	pf.String("data-dir", "", "Directory holding the connection database")
	pf.String("workspace-dir", "", "Directory for buffers when the file editor host is used")
	pf.String("editor-host", "", "Editor host (memory|file)")
	pf.Duration("timeout", 0, "Per-command execution timeout")
	pf.Int64("limit", 0, "Document limit for quick queries")
	pf.String("schedule", "", "Cron expression for refreshing connected trees")
	pf.BoolP("verbose", "v", false, "Verbose output")

	_ = rootCmd.RegisterFlagCompletionFunc("editor-host", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{config.HostMemory, config.HostFile}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newREPLCommand())
	rootCmd.AddCommand(newConnCommand())
	rootCmd.AddCommand(newTreeCommand())
	rootCmd.AddCommand(newApprovalsCommand())

	return rootCmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// configFrom retrieves the config stored by the root command, loading the
// defaults when the command runs outside of it.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	if c, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return c, nil
	}
	return config.Load("", nil)
}
