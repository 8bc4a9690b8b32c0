package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mongorunner/internal/domain"
	"mongorunner/internal/service"
)

func newConnCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conn",
		Aliases: []string{"connection", "connections"},
		Short:   "Manage stored MongoDB connections",
	}
	cmd.AddCommand(newConnListCommand())
	cmd.AddCommand(newConnAddCommand())
	cmd.AddCommand(newConnRemoveCommand())
	cmd.AddCommand(newConnTestCommand())
	return cmd
}

func newConnListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored connections",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFor(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			conns, err := rt.Registry.ListConnections()
			if err != nil {
				return err
			}
			renderConnections(cmd.OutOrStdout(), conns)
			return nil
		},
	}
}

func newConnAddCommand() *cobra.Command {
	var (
		input       service.ConnectionInput
		askPassword bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Store a new connection",
		Long: `Add stores a connection. The host may be a plain hostname or a full
mongodb:// or mongodb+srv:// URI. The password goes to the system keychain
when one is available.`,
		Example: `  mongorunner conn add local --host localhost --database shop
  mongorunner conn add atlas --host "mongodb+srv://cluster0.example.net" --username app --ask-password`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Name = args[0]
			if askPassword {
				pw, err := readPassword(fmt.Sprintf("Password for %s: ", input.Name))
				if err != nil {
					return err
				}
				input.Password = pw
			}

			rt, err := runtimeFor(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			conn, err := rt.Registry.CreateConnection(input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created connection %s (%s)\n", conn.Name, conn.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&input.Host, "host", "localhost", "Hostname or mongodb:// URI")
	f.IntVar(&input.Port, "port", 27017, "Port, ignored for URIs")
	f.StringVar(&input.Database, "database", "", "Default database for new sessions")
	f.StringVar(&input.Username, "username", "", "User name")
	f.StringVar(&input.ExtraJSON, "options", "", `Extra URI options as JSON, e.g. {"authSource":"admin"}`)
	f.BoolVar(&input.ActiveOnStartup, "on-startup", false, "Connect when refresh.on_startup is set")
	f.BoolVar(&askPassword, "ask-password", false, "Prompt for the password")
	return cmd
}

func readPassword(prompt string) (string, error) {
	rl, err := readline.New("")
	if err != nil {
		return "", fmt.Errorf("open terminal: %w", err)
	}
	defer func() { _ = rl.Close() }()

	pw, err := rl.ReadPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

func newConnRemoveCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "rm <connection>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a stored connection and its password",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFor(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			conn, err := rt.ResolveConnection(args[0])
			if err != nil {
				return err
			}

			if !yes {
				rl, err := readline.New("")
				if err != nil {
					return fmt.Errorf("open terminal: %w", err)
				}
				defer func() { _ = rl.Close() }()

				ok, err := NewLinePrompter(rl, "").Confirm(cmd.Context(), fmt.Sprintf("Delete connection %s?", conn.Name))
				if err != nil || !ok {
					return err
				}
			}

			if err := rt.Registry.DeleteConnection(cmd.Context(), conn.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted connection %s\n", conn.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newConnTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <connection>",
		Short: "Connect once and report the databases found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFor(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			conn, err := rt.ResolveConnection(args[0])
			if err != nil {
				return err
			}
			if err := rt.Registry.Connect(cmd.Context(), conn.ID); err != nil {
				return err
			}

			dbs := 0
			for _, n := range rt.Tree.Tree(conn.ID) {
				dbs += len(n.Children)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d databases\n", conn.Name, rt.Registry.Status(conn.ID), dbs)
			return nil
		},
	}
}

// runtimeFor builds a runtime that reports notices on stderr.
func runtimeFor(cmd *cobra.Command) (*Runtime, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return nil, err
	}
	return NewRuntime(cfg, RuntimeOptions{Notifier: NewStreamNotifier(cmd.ErrOrStderr())})
}

func renderConnections(w io.Writer, conns []domain.DatabaseConnection) {
	if len(conns) == 0 {
		fmt.Fprintln(w, "No connections. Add one with: mongorunner conn add <name> --host <host>")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Host", "Port", "Database", "User", "Startup"})
	for _, c := range conns {
		startup := ""
		if c.ActiveOnStartup {
			startup = "yes"
		}
		t.AppendRow(table.Row{c.ID, c.Name, c.Host, strconv.Itoa(c.Port), c.Database, c.Username, startup})
	}
	t.Render()
}
