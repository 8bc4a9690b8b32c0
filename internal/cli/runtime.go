package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mongorunner/internal/config"
	"mongorunner/internal/dbclient"
	"mongorunner/internal/domain"
	"mongorunner/internal/editor"
	"mongorunner/internal/events"
	"mongorunner/internal/sandbox"
	"mongorunner/internal/secret"
	"mongorunner/internal/service"
	"mongorunner/internal/storage"
	"mongorunner/internal/topology"
)

// Runtime is the fully wired core for one CLI invocation.
type Runtime struct {
	Config     *config.Config
	DB         *storage.DB
	Bus        *events.Bus
	Registry   *service.Registry
	Tree       *topology.Synchronizer
	Host       editor.Host
	Table      *service.SessionTable
	Renderer   *service.Renderer
	Dispatcher *service.Dispatcher
	Commands   *service.Commands
}

// RuntimeOptions overrides the collaborators that reach outside the process.
// Zero values select the production ones.
type RuntimeOptions struct {
	Bus      *events.Bus
	Open     dbclient.Opener
	Secrets  secret.SecretStore
	Prompter service.Prompter
	Notifier service.Notifier
}

// NewRuntime opens storage and the editor host named by cfg and wires the
// services on top of them.
func NewRuntime(cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Open == nil {
		opts.Open = dbclient.Open
	}
	if opts.Secrets == nil {
		opts.Secrets = secret.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = service.LogNotifier{}
	}

	db, err := storage.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	host, err := newHost(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	rt := &Runtime{Config: cfg, DB: db, Bus: opts.Bus, Host: host}
	rt.Registry = service.NewRegistry(storage.NewDBConnectionStore(db), opts.Secrets, opts.Open, rt.Bus)
	rt.Tree = topology.NewSynchronizer(rt.Bus)
	rt.Table = service.NewSessionTable(host, rt.Registry)

	rt.Renderer = service.NewRenderer(host, rt.Table, rt.Bus)
	rt.Renderer.Prefix = cfg.Output.PromptPrefix
	rt.Renderer.Language = cfg.Output.Language

	rt.Dispatcher = service.NewDispatcher(rt.Table, rt.Registry, sandbox.NewExecutor(cfg.Execution.Timeout), rt.Renderer, host, opts.Notifier)
	rt.Commands = service.NewCommands(service.CommandDeps{
		Registry:   rt.Registry,
		Table:      rt.Table,
		Dispatcher: rt.Dispatcher,
		Renderer:   rt.Renderer,
		Host:       host,
		Bus:        rt.Bus,
		Prompter:   opts.Prompter,
		Notifier:   opts.Notifier,
		QueryLimit: cfg.Query.DefaultLimit,
		SampleSize: cfg.Attributes.SampleSize,
	})
	return rt, nil
}

func newHost(cfg *config.Config) (editor.Host, error) {
	if cfg.Editor.Host == config.HostMemory {
		return editor.NewMemoryHost(), nil
	}
	host, err := editor.NewFileHost(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	return host, nil
}

// Start connects the startup connections and arms the refresh schedule,
// when the configuration asks for them.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.Config.Refresh.OnStartup {
		rt.Registry.ConnectOnStartup(ctx)
	}
	if rt.Config.Refresh.Schedule != "" {
		if err := rt.Registry.ScheduleRefresh(ctx, rt.Config.Refresh.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects everything and releases the host and storage.
func (rt *Runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rt.Registry.Close(ctx); err != nil {
		log.Printf("[CLI] disconnect: %v", err)
	}
	rt.Table.Close()
	rt.Tree.Close()
	if fh, ok := rt.Host.(*editor.FileHost); ok {
		if err := fh.Shutdown(); err != nil {
			log.Printf("[CLI] stop workspace watcher: %v", err)
		}
	}
	if err := rt.DB.Close(); err != nil {
		log.Printf("[CLI] close database: %v", err)
	}
}

// ResolveConnection finds a stored connection by id, then by its unique name.
func (rt *Runtime) ResolveConnection(ref string) (*domain.DatabaseConnection, error) {
	if conn, err := rt.Registry.GetConnection(ref); err == nil {
		return conn, nil
	} else if !errors.Is(err, domain.ErrConnectionNotFound) {
		return nil, err
	}

	conns, err := rt.Registry.ListConnections()
	if err != nil {
		return nil, err
	}
	for i := range conns {
		if conns[i].Name == ref {
			return &conns[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, ref)
}

// OpenSession connects connRef and binds a new visible runner buffer holding
// content to it. An empty dbName selects the connection's default database.
func (rt *Runtime) OpenSession(ctx context.Context, connRef, dbName, content string) (domain.BufferRef, error) {
	conn, err := rt.ResolveConnection(connRef)
	if err != nil {
		return "", err
	}
	if err := rt.Registry.Connect(ctx, conn.ID); err != nil {
		return "", err
	}
	if dbName == "" {
		dbName = conn.Database
	}
	if dbName == "" {
		dbName = "test"
	}

	ref, err := rt.Host.OpenBuffer(ctx, content, editor.LanguageRunner)
	if err != nil {
		return "", fmt.Errorf("open buffer: %w", err)
	}
	if _, err := rt.Host.Show(ctx, ref, 1); err != nil {
		return "", fmt.Errorf("show buffer: %w", err)
	}
	if _, err := rt.Table.CreateSession(ref, conn.ID, dbName); err != nil {
		return "", err
	}
	return ref, nil
}

// OutputText returns what has been rendered for the session on bufferID.
func (rt *Runtime) OutputText(bufferID domain.BufferRef) string {
	s, ok := rt.Table.Snapshot(bufferID)
	if !ok || !s.HasOutput() {
		return ""
	}
	text, err := rt.Host.Text(s.OutputBuffer)
	if err != nil {
		return ""
	}
	return text
}
