package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var dbName string

	cmd := &cobra.Command{
		Use:   "run <connection> <file>",
		Short: "Run every statement of a script against a connection",
		Long: `Run splits a script into its top-level statements and executes them one
after the other against the connection (id or name). A failing statement does
not stop the ones after it; the rendered output is printed when all are done.

Use - as the file to read the script from stdin.`,
		Example: `  mongorunner run local ./report.js
  mongorunner run local - --db shop < cleanup.js`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			src, err := readScript(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}

			rt, err := NewRuntime(cfg, RuntimeOptions{Notifier: NewStreamNotifier(cmd.ErrOrStderr())})
			if err != nil {
				return err
			}
			defer rt.Close()

			return runScript(cmd.Context(), rt, args[0], dbName, src, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&dbName, "db", "d", "", "Database to run against (default: the connection's)")
	return cmd
}

func readScript(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

// runScript dispatches every statement of src and writes the output buffer
// to w. It fails when any statement failed.
func runScript(ctx context.Context, rt *Runtime, connRef, dbName, src string, w io.Writer) error {
	ref, err := rt.OpenSession(ctx, connRef, dbName, src)
	if err != nil {
		return err
	}

	outcomes, err := rt.Dispatcher.DispatchAll(ctx, ref)
	if text := rt.OutputText(ref); text != "" {
		fmt.Fprintln(w, text)
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, o := range outcomes {
		if !o.OK {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d statements failed", failed, len(outcomes))
	}
	return nil
}
