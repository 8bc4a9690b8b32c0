package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"mongorunner/internal/domain"
	"mongorunner/internal/sandbox"
	"mongorunner/internal/service"
)

const (
	replPrompt = "mongo> "
	contPrompt = "  ...> "
)

func newREPLCommand() *cobra.Command {
	var dbName string

	cmd := &cobra.Command{
		Use:   "repl <connection>",
		Short: "Start an interactive shell bound to a connection",
		Long: `Repl binds a session to the connection (id or name) and runs each entered
statement as it is completed. Unbalanced brackets continue on the next line.

Type .help for commands, .quit to exit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          replPrompt,
				HistoryFile:     filepath.Join(cfg.DataDir, "repl_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       ".quit",
				Stdout:          cmd.OutOrStdout(),
				Stderr:          cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize REPL: %w", err)
			}
			defer func() { _ = rl.Close() }()

			rt, err := NewRuntime(cfg, RuntimeOptions{
				Prompter: NewLinePrompter(rl, replPrompt),
				Notifier: NewStreamNotifier(cmd.ErrOrStderr()),
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			r, err := newREPL(ctx, rt, args[0], dbName, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return r.loop(ctx, rl)
		},
	}

	cmd.Flags().StringVarP(&dbName, "db", "d", "", "Database to start in (default: the connection's)")
	return cmd
}

// repl owns one session and evaluates input against it.
type repl struct {
	rt      *Runtime
	connRef string
	ref     domain.BufferRef
	out     io.Writer
	errOut  io.Writer
}

func newREPL(ctx context.Context, rt *Runtime, connRef, dbName string, out, errOut io.Writer) (*repl, error) {
	r := &repl{rt: rt, connRef: connRef, out: out, errOut: errOut}
	if err := r.use(ctx, dbName); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *repl) session() domain.Session {
	s, _ := r.rt.Table.Snapshot(r.ref)
	return s
}

// use binds a fresh session for dbName and drops the previous one.
func (r *repl) use(ctx context.Context, dbName string) error {
	ref, err := r.rt.OpenSession(ctx, r.connRef, dbName, "")
	if err != nil {
		return err
	}
	if r.ref != "" {
		_ = r.rt.Host.Close(r.ref)
	}
	r.ref = ref
	s := r.session()
	fmt.Fprintf(r.out, "Using database %s\n", s.DatabaseName)
	return nil
}

func (r *repl) loop(ctx context.Context, rl *readline.Instance) error {
	fmt.Fprintln(r.out, "Type .help for commands, .quit to exit")

	var pending strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			pending.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if pending.Len() == 0 && strings.HasPrefix(strings.TrimSpace(line), ".") {
			if quit := r.dot(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
			continue
		}

		pending.WriteString(line)
		pending.WriteString("\n")
		if incomplete(pending.String()) {
			rl.SetPrompt(contPrompt)
			continue
		}
		rl.SetPrompt(replPrompt)

		src := pending.String()
		pending.Reset()
		r.eval(ctx, src)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// eval runs each statement of src and prints its result.
func (r *repl) eval(ctx context.Context, src string) {
	commands := sandbox.SplitStatements(src)
	if len(commands) == 0 {
		return
	}
	outcomes, err := r.rt.Dispatcher.Dispatch(ctx, r.ref, commands)
	for _, o := range outcomes {
		if o.OK {
			fmt.Fprintln(r.out, service.FormatOutcome(o))
		} else {
			fmt.Fprintln(r.errOut, o.Error)
		}
	}
	if err != nil && !errors.Is(err, domain.ErrConnectionInactive) {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
	}
}

// dot handles a dot-command and reports whether the loop should end.
func (r *repl) dot(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	s := r.session()

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(r.out)

	case ".use":
		if len(parts) < 2 {
			fmt.Fprintln(r.errOut, "Usage: .use <database>")
			return false
		}
		if err := r.use(ctx, parts[1]); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
		}

	case ".clear":
		r.run(ctx, service.CmdClearOutput, service.Event{ConnectionID: s.ConnectionID, BufferID: r.ref})

	case ".output":
		fmt.Fprintln(r.out, r.rt.OutputText(r.ref))

	case ".status":
		r.run(ctx, service.CmdServerStatus, service.Event{ConnectionID: s.ConnectionID})

	case ".indexes":
		if len(parts) < 2 {
			fmt.Fprintln(r.errOut, "Usage: .indexes <collection>")
			return false
		}
		r.run(ctx, service.CmdGetIndex, service.Event{
			ConnectionID:   s.ConnectionID,
			DatabaseName:   s.DatabaseName,
			CollectionName: parts[1],
		})

	case ".attributes":
		if len(parts) < 2 {
			fmt.Fprintln(r.errOut, "Usage: .attributes <collection>")
			return false
		}
		r.run(ctx, service.CmdGetCollectionAttributes, service.Event{
			ConnectionID:   s.ConnectionID,
			DatabaseName:   s.DatabaseName,
			CollectionName: parts[1],
		})

	default:
		fmt.Fprintf(r.errOut, "Unknown command %s, type .help\n", parts[0])
	}
	return false
}

func (r *repl) run(ctx context.Context, name string, ev service.Event) {
	res, err := r.rt.Commands.Run(ctx, name, ev)
	if err != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
		return
	}
	if res.Text != "" && name != service.CmdClearOutput {
		fmt.Fprintln(r.out, res.Text)
	}
}

func printREPLHelp(w io.Writer) {
	fmt.Fprint(w, `Commands:
  .use <database>          Switch to another database
  .indexes <collection>    Show the indexes of a collection
  .attributes <collection> Sample the fields of a collection
  .status                  Show serverStatus
  .output                  Print everything rendered so far
  .clear                   Clear the output buffer
  .help                    Show this help
  .quit                    Exit
`)
}

// incomplete reports whether src still has open brackets, an open template
// literal or an open block comment, so that more input is needed.
func incomplete(src string) bool {
	depth := 0
	var quote rune
	inLine, inBlock, escaped := false, false, false

	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch {
		case inLine:
			if c == '\n' {
				inLine = false
			}
		case inBlock:
			if c == '*' && next == '/' {
				inBlock = false
				i++
			}
		case quote != 0:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			case c == '\n' && quote != '`':
				// unterminated string literal; let the parser report it
				quote = 0
			}
		case c == '/' && next == '/':
			inLine = true
			i++
		case c == '/' && next == '*':
			inBlock = true
			i++
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		}
	}
	return depth > 0 || inBlock || quote == '`'
}
