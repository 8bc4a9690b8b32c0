package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mongorunner/internal/domain"
	"mongorunner/internal/editor"
	"mongorunner/internal/sandbox"
)

// ─────────────────────────────────────────────────────────────
// Sequential Command Dispatcher: run, render, repeat
// ─────────────────────────────────────────────────────────────

// HandleSource hands out connection handles; *Registry satisfies it.
type HandleSource interface {
	GetHandle(connectionID string) (ConnectionHandle, error)
}

// ScriptExecutor runs one script; *sandbox.Executor satisfies it.
type ScriptExecutor interface {
	Execute(ctx context.Context, provider sandbox.DatabaseProvider, databaseName, script string) domain.Outcome
}

// Step describes one executed command of a batch.
type Step struct {
	Index    int
	Command  string
	Started  time.Time
	Finished time.Time
	Outcome  domain.Outcome
}

// Dispatcher runs batches of commands for a session, one after the other.
type Dispatcher struct {
	table    *SessionTable
	handles  HandleSource
	exec     ScriptExecutor
	renderer *Renderer
	host     editor.Host
	notify   Notifier

	// Clock stamps steps; defaults to time.Now.
	Clock func() time.Time
	// OnStep, when set, sees every step after its outcome was rendered.
	OnStep func(Step)
}

// NewDispatcher wires a dispatcher. A nil notifier logs.
func NewDispatcher(table *SessionTable, handles HandleSource, exec ScriptExecutor, renderer *Renderer, host editor.Host, notify Notifier) *Dispatcher {
	if notify == nil {
		notify = LogNotifier{}
	}
	return &Dispatcher{
		table:    table,
		handles:  handles,
		exec:     exec,
		renderer: renderer,
		host:     host,
		notify:   notify,
		Clock:    time.Now,
	}
}

// Dispatch executes commands in order against the session bound to bufferID.
// The session and its connection are checked once up front; if either check
// fails nothing runs. A failing command does not stop the ones after it.
func (d *Dispatcher) Dispatch(ctx context.Context, bufferID domain.BufferRef, commands []string) ([]domain.Outcome, error) {
	s, ok := d.table.GetSession(bufferID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, bufferID)
	}

	release, err := d.table.Acquire(ctx, bufferID)
	if err != nil {
		return nil, fmt.Errorf("wait for session %s: %w", bufferID, err)
	}
	defer release()

	handle, err := d.activeHandle(s)
	if err != nil {
		d.notify.Error(ctx, "Connection is closed.")
		return nil, err
	}

	outcomes := make([]domain.Outcome, 0, len(commands))
	for i, cmd := range commands {
		if err := ctx.Err(); err != nil {
			return outcomes, fmt.Errorf("dispatch cancelled after %d of %d commands: %w", i, len(commands), err)
		}
		if current, ok := d.table.GetSession(bufferID); !ok || current != s {
			return outcomes, fmt.Errorf("%w: %s closed during dispatch", domain.ErrSessionNotFound, bufferID)
		}

		step := Step{Index: i, Command: cmd, Started: d.Clock()}
		step.Outcome = d.exec.Execute(ctx, handle.Driver, s.DatabaseName, cmd)
		if !step.Outcome.OK {
			log.Printf("[DISPATCH] %s command %d failed: %s", bufferID, i+1, step.Outcome.Error)
		}
		if err := d.renderer.Render(ctx, s, cmd, step.Outcome); err != nil {
			log.Printf("[DISPATCH] render %s command %d: %v", bufferID, i+1, err)
		}
		step.Finished = d.Clock()

		outcomes = append(outcomes, step.Outcome)
		if d.OnStep != nil {
			d.OnStep(step)
		}
	}
	return outcomes, nil
}

func (d *Dispatcher) activeHandle(s *domain.Session) (ConnectionHandle, error) {
	if !d.table.IsConnectionActive(s.ConnectionID) {
		return ConnectionHandle{}, fmt.Errorf("%w: %s", domain.ErrConnectionInactive, s.ConnectionID)
	}
	h, err := d.handles.GetHandle(s.ConnectionID)
	if err != nil {
		if !errors.Is(err, domain.ErrConnectionInactive) {
			err = fmt.Errorf("%w: %v", domain.ErrConnectionInactive, err)
		}
		return ConnectionHandle{}, err
	}
	if h.Driver == nil {
		return ConnectionHandle{}, fmt.Errorf("%w: %s has no driver", domain.ErrConnectionInactive, s.ConnectionID)
	}
	return h, nil
}

// DispatchAll splits the whole text of the session's buffer into statements
// and dispatches them as one batch.
func (d *Dispatcher) DispatchAll(ctx context.Context, bufferID domain.BufferRef) ([]domain.Outcome, error) {
	if _, ok := d.table.GetSession(bufferID); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, bufferID)
	}
	text, err := d.host.Text(bufferID)
	if err != nil {
		return nil, fmt.Errorf("read buffer %s: %w", bufferID, err)
	}
	commands := sandbox.SplitStatements(text)
	if len(commands) == 0 {
		d.notify.Info(ctx, "Nothing to run.")
		return nil, nil
	}
	return d.Dispatch(ctx, bufferID, commands)
}
