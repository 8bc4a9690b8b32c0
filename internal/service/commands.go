package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"mongorunner/internal/dbclient"
	"mongorunner/internal/domain"
	"mongorunner/internal/editor"
	"mongorunner/internal/events"
)

// Command identifiers.
const (
	CmdLaunchEditor            = "mongoRunner.launchEditor"
	CmdExecuteCommand          = "mongoRunner.executeCommand"
	CmdQueryPlanner            = "mongoRunner.queryPlanner"
	CmdExecuteAllCommands      = "mongoRunner.executeAllCommands"
	CmdClearOutput             = "mongoRunner.clearOutput"
	CmdHostConnect             = "mongoRunner.hostConnect"
	CmdHostDisconnect          = "mongoRunner.hostDisconnect"
	CmdHostRefresh             = "mongoRunner.hostRefresh"
	CmdRefresh                 = "mongoRunner.refresh"
	CmdServerStatus            = "mongoRunner.serverStatus"
	CmdServerBuildInfo         = "mongoRunner.serverBuildInfo"
	CmdCreateCollection        = "mongoRunner.createCollection"
	CmdDeleteDatabase          = "mongoRunner.deleteDatabase"
	CmdDeleteCollection        = "mongoRunner.deleteCollection"
	CmdGetCollectionAttributes = "mongoRunner.getCollectionAttributes"
	CmdGetIndex                = "mongoRunner.getIndex"
	CmdCreateIndex             = "mongoRunner.createIndex"
	CmdDeleteIndex             = "mongoRunner.deleteIndex"
	CmdSimpleQuery             = "mongoRunner.simpleQuery"
	CmdFindFirst20Docs         = "mongoRunner.findFirst20Docs"
)

// EditorHeader opens every launched runner buffer.
const EditorHeader = `// MongoRunner
// Each top-level statement runs against the database bound to this buffer.
// The only global is ` + "`db`" + `; results are appended to the output buffer.`

// Event is the payload every command handler receives.
type Event struct {
	ConnectionID   string           `json:"connectionId"`
	DatabaseName   string           `json:"databaseName,omitempty"`
	CollectionName string           `json:"collectionName,omitempty"`
	IndexName      string           `json:"indexName,omitempty"`
	BufferID       domain.BufferRef `json:"bufferId,omitempty"`
	Command        string           `json:"command,omitempty"`
	// Input answers the handler's text prompt up front; empty means ask.
	Input string `json:"input,omitempty"`
}

// Result is what a handler produced, for surfaces that cannot see buffers.
type Result struct {
	BufferRef domain.BufferRef `json:"bufferRef,omitempty"`
	Outcomes  []domain.Outcome `json:"outcomes,omitempty"`
	Text      string           `json:"text,omitempty"`
	Skipped   bool             `json:"skipped,omitempty"` // user declined or dismissed a prompt
}

// Handler is one named command.
type Handler func(ctx context.Context, ev Event) (Result, error)

// CommandDeps bundles what the handlers need.
type CommandDeps struct {
	Registry   *Registry
	Table      *SessionTable
	Dispatcher *Dispatcher
	Renderer   *Renderer
	Host       editor.Host
	Bus        *events.Bus
	Prompter   Prompter
	Notifier   Notifier

	DefaultDatabase string
	QueryLimit      int64
	SampleSize      int
}

// Commands maps command identifiers to handlers.
type Commands struct {
	CommandDeps
	handlers map[string]Handler
}

// NewCommands registers every handler.
func NewCommands(deps CommandDeps) *Commands {
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{}
	}
	if deps.DefaultDatabase == "" {
		deps.DefaultDatabase = "test"
	}
	if deps.QueryLimit <= 0 {
		deps.QueryLimit = 20
	}
	if deps.SampleSize <= 0 {
		deps.SampleSize = 20
	}
	c := &Commands{CommandDeps: deps}
	c.handlers = map[string]Handler{
		CmdLaunchEditor:            c.launchEditor,
		CmdExecuteCommand:          c.executeCommand,
		CmdQueryPlanner:            c.executeCommand,
		CmdExecuteAllCommands:      c.executeAllCommands,
		CmdClearOutput:             c.clearOutput,
		CmdHostConnect:             c.hostConnect,
		CmdHostDisconnect:          c.hostDisconnect,
		CmdHostRefresh:             c.hostRefresh,
		CmdRefresh:                 c.refreshAll,
		CmdServerStatus:            c.serverStatus,
		CmdServerBuildInfo:         c.serverBuildInfo,
		CmdCreateCollection:        c.createCollection,
		CmdDeleteDatabase:          c.deleteDatabase,
		CmdDeleteCollection:        c.deleteCollection,
		CmdGetCollectionAttributes: c.collectionAttributes,
		CmdGetIndex:                c.getIndex,
		CmdCreateIndex:             c.createIndex,
		CmdDeleteIndex:             c.deleteIndex,
		CmdSimpleQuery:             c.simpleQuery,
		CmdFindFirst20Docs:         c.findFirst20Docs,
	}
	return c
}

// Names lists the registered identifiers, sorted.
func (c *Commands) Names() []string {
	names := make([]string, 0, len(c.handlers))
	for n := range c.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run invokes the handler registered under name.
func (c *Commands) Run(ctx context.Context, name string, ev Event) (Result, error) {
	h, ok := c.handlers[name]
	if !ok {
		return Result{}, fmt.Errorf("unknown command %q", name)
	}
	return h(ctx, ev)
}

// ── Session commands ───────────────────────────────────────

func (c *Commands) launchEditor(ctx context.Context, ev Event) (Result, error) {
	dbName := ev.DatabaseName
	if dbName == "" {
		dbName = c.DefaultDatabase
		if conn, err := c.Registry.GetConnection(ev.ConnectionID); err == nil && conn.Database != "" {
			dbName = conn.Database
		}
	}
	col := ev.CollectionName
	if col == "" {
		col = "COLLECTION_NAME"
	}

	text := fmt.Sprintf("%s\ndb.collection('%s').find()", EditorHeader, col)
	ref, err := c.Host.OpenBuffer(ctx, text, editor.LanguageRunner)
	if err != nil {
		return Result{}, fmt.Errorf("open editor: %w", err)
	}
	if _, err := c.Host.Show(ctx, ref, 1); err != nil {
		return Result{}, fmt.Errorf("show editor: %w", err)
	}
	if _, err := c.Table.CreateSession(ref, ev.ConnectionID, dbName); err != nil {
		return Result{}, err
	}
	return Result{BufferRef: ref, Text: text}, nil
}

func (c *Commands) executeCommand(ctx context.Context, ev Event) (Result, error) {
	cmd := strings.TrimSpace(ev.Command)
	if cmd == "" {
		return Result{Skipped: true}, nil
	}
	outcomes, err := c.Dispatcher.Dispatch(ctx, ev.BufferID, []string{cmd})
	return c.dispatched(ev.BufferID, outcomes), err
}

func (c *Commands) executeAllCommands(ctx context.Context, ev Event) (Result, error) {
	outcomes, err := c.Dispatcher.DispatchAll(ctx, ev.BufferID)
	return c.dispatched(ev.BufferID, outcomes), err
}

func (c *Commands) dispatched(bufferID domain.BufferRef, outcomes []domain.Outcome) Result {
	res := Result{Outcomes: outcomes}
	if s, ok := c.Table.Snapshot(bufferID); ok {
		res.BufferRef = s.OutputBuffer
		if s.HasOutput() {
			res.Text, _ = c.Host.Text(s.OutputBuffer)
		}
	}
	return res
}

func (c *Commands) clearOutput(ctx context.Context, ev Event) (Result, error) {
	s, ok := c.Table.GetSession(ev.BufferID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, ev.BufferID)
	}
	return Result{}, c.Renderer.Clear(ctx, s)
}

// ── Connection commands ────────────────────────────────────

func (c *Commands) hostConnect(ctx context.Context, ev Event) (Result, error) {
	if err := c.Registry.Connect(ctx, ev.ConnectionID); err != nil {
		c.Notifier.Error(ctx, "Failed to connect!")
		return Result{}, err
	}
	return Result{}, nil
}

func (c *Commands) hostDisconnect(ctx context.Context, ev Event) (Result, error) {
	if err := c.Registry.Disconnect(ctx, ev.ConnectionID); err != nil {
		c.Notifier.Error(ctx, "Failed to close connection.")
		return Result{}, err
	}
	c.Notifier.Info(ctx, "MongoDB Connection Closed.")
	return Result{}, nil
}

func (c *Commands) hostRefresh(ctx context.Context, ev Event) (Result, error) {
	return Result{}, c.Registry.Refresh(ctx, ev.ConnectionID)
}

func (c *Commands) refreshAll(ctx context.Context, _ Event) (Result, error) {
	c.Notifier.Info(ctx, "Refresh Mongo Connection")
	return Result{}, c.Registry.RefreshAll(ctx)
}

func (c *Commands) driver(ev Event) (dbclient.Driver, error) {
	h, err := c.Registry.GetHandle(ev.ConnectionID)
	if err != nil {
		return nil, err
	}
	return h.Driver, nil
}

// refreshQuietly re-inspects after a structural change; a failure only
// leaves the tree stale.
func (c *Commands) refreshQuietly(ctx context.Context, connectionID string) {
	if err := c.Registry.Refresh(ctx, connectionID); err != nil {
		log.Printf("[COMMANDS] refresh %s: %v", connectionID, err)
	}
}

func (c *Commands) serverStatus(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	doc, err := drv.ServerStatus(ctx)
	if err != nil {
		return Result{}, c.failed(ctx, "server status", err)
	}
	return c.showJSON(ctx, doc)
}

func (c *Commands) serverBuildInfo(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	doc, err := drv.BuildInfo(ctx)
	if err != nil {
		return Result{}, c.failed(ctx, "build info", err)
	}
	return c.showJSON(ctx, doc)
}

// showJSON opens a read-only style json buffer with v in the first column.
func (c *Commands) showJSON(ctx context.Context, v any) (Result, error) {
	text, err := dbclient.Pretty(v)
	if err != nil {
		return Result{}, err
	}
	ref, err := c.Host.OpenBuffer(ctx, text, editor.LanguageJSON)
	if err != nil {
		return Result{}, fmt.Errorf("open json buffer: %w", err)
	}
	if _, err := c.Host.Show(ctx, ref, 1); err != nil {
		return Result{}, fmt.Errorf("show json buffer: %w", err)
	}
	return Result{BufferRef: ref, Text: text}, nil
}

func (c *Commands) failed(ctx context.Context, what string, err error) error {
	c.Notifier.Error(ctx, err.Error())
	return fmt.Errorf("%s: %w", what, err)
}

// ── Structure commands ─────────────────────────────────────

func (c *Commands) createCollection(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	name, ok, err := c.input(ctx, ev.Input, "Type Collection Name")
	if err != nil || !ok {
		return Result{Skipped: true}, err
	}
	name = strings.TrimSpace(name)
	if err := drv.Database(ev.DatabaseName).CreateCollection(ctx, name); err != nil {
		return Result{}, c.failed(ctx, "create collection", err)
	}
	c.Notifier.Info(ctx, fmt.Sprintf("Created Collection %s", name))
	c.refreshQuietly(ctx, ev.ConnectionID)
	return Result{Text: name}, nil
}

func (c *Commands) deleteDatabase(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	if ok, err := c.confirm(ctx, fmt.Sprintf("Are you sure to delete database %s?", ev.DatabaseName)); err != nil || !ok {
		return Result{Skipped: true}, err
	}
	if err := drv.Database(ev.DatabaseName).Drop(ctx); err != nil {
		return Result{}, c.failed(ctx, "drop database", err)
	}
	c.refreshQuietly(ctx, ev.ConnectionID)
	return Result{}, nil
}

func (c *Commands) deleteCollection(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	msg := fmt.Sprintf("Are you sure to delete collection %s in %s database?", ev.CollectionName, ev.DatabaseName)
	if ok, err := c.confirm(ctx, msg); err != nil || !ok {
		return Result{Skipped: true}, err
	}
	if err := drv.Database(ev.DatabaseName).Collection(ev.CollectionName).Drop(ctx); err != nil {
		return Result{}, c.failed(ctx, "drop collection", err)
	}
	c.refreshQuietly(ctx, ev.ConnectionID)
	return Result{}, nil
}

func (c *Commands) collectionAttributes(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	attrs, err := drv.CollectionAttributes(ctx, ev.DatabaseName, ev.CollectionName, c.SampleSize)
	if err != nil {
		return Result{}, fmt.Errorf("collection attributes: %w", err)
	}
	if c.Bus != nil {
		c.Bus.Publish(ctx, events.AttributesFetched, events.AttributesEvent{
			ConnectionID:   ev.ConnectionID,
			DatabaseName:   ev.DatabaseName,
			CollectionName: ev.CollectionName,
			Attributes:     attrs,
		})
	}
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name + ": " + a.Type
	}
	return Result{Text: strings.Join(names, "\n")}, nil
}

func (c *Commands) getIndex(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	indexes, err := drv.Database(ev.DatabaseName).Collection(ev.CollectionName).Indexes(ctx)
	if err != nil {
		return Result{}, c.failed(ctx, "list indexes", err)
	}
	return c.showJSON(ctx, indexes)
}

func (c *Commands) createIndex(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	text, ok, err := c.input(ctx, ev.Input, `{"fieldA": 1, "fieldB": -1}`)
	if err != nil || !ok {
		return Result{Skipped: true}, err
	}
	keys, err := dbclient.ParseDocument(text)
	if err == nil && len(keys) == 0 {
		err = errors.New("index specification has no keys")
	}
	if err != nil {
		return Result{}, c.malformed(ctx, text, err)
	}
	name, err := drv.Database(ev.DatabaseName).Collection(ev.CollectionName).CreateIndex(ctx, keys, false)
	if err != nil {
		return Result{}, c.failed(ctx, "create index", err)
	}
	c.Notifier.Info(ctx, "Create index: "+name)
	c.refreshQuietly(ctx, ev.ConnectionID)
	return Result{Text: name}, nil
}

func (c *Commands) deleteIndex(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	msg := fmt.Sprintf("Are you sure to delete index %s in collection %s.%s?", ev.IndexName, ev.DatabaseName, ev.CollectionName)
	if ok, err := c.confirm(ctx, msg); err != nil || !ok {
		return Result{Skipped: true}, err
	}
	if err := drv.Database(ev.DatabaseName).Collection(ev.CollectionName).DropIndex(ctx, ev.IndexName); err != nil {
		return Result{}, c.failed(ctx, "drop index", err)
	}
	c.refreshQuietly(ctx, ev.ConnectionID)
	return Result{}, nil
}

func (c *Commands) simpleQuery(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	text, ok, err := c.input(ctx, ev.Input, "query json condition")
	if err != nil || !ok {
		return Result{Skipped: true}, err
	}
	filter, err := dbclient.ParseDocument(text)
	if err != nil {
		return Result{}, c.malformed(ctx, text, err)
	}
	return c.query(ctx, drv, ev, filter)
}

func (c *Commands) findFirst20Docs(ctx context.Context, ev Event) (Result, error) {
	drv, err := c.driver(ev)
	if err != nil {
		return Result{}, err
	}
	return c.query(ctx, drv, ev, bson.D{})
}

func (c *Commands) query(ctx context.Context, drv dbclient.Driver, ev Event, filter bson.D) (Result, error) {
	docs, err := drv.Query(ctx, ev.DatabaseName, ev.CollectionName, filter, c.QueryLimit)
	if err != nil {
		return Result{}, c.failed(ctx, "query", err)
	}
	return c.showJSON(ctx, docs)
}

// ── Prompts ────────────────────────────────────────────────

// input returns preset when given, otherwise asks the prompter. The text
// comes back as typed; a blank answer counts as dismissed.
func (c *Commands) input(ctx context.Context, preset, placeholder string) (string, bool, error) {
	if strings.TrimSpace(preset) != "" {
		return preset, true, nil
	}
	if c.Prompter == nil {
		return "", false, nil
	}
	text, ok, err := c.Prompter.InputText(ctx, placeholder)
	if err != nil {
		return "", false, fmt.Errorf("prompt: %w", err)
	}
	return text, ok && strings.TrimSpace(text) != "", nil
}

// confirm asks before destructive commands. Without a prompter nothing is
// confirmed.
func (c *Commands) confirm(ctx context.Context, message string) (bool, error) {
	if c.Prompter == nil {
		return false, nil
	}
	ok, err := c.Prompter.Confirm(ctx, message)
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return ok, nil
}

func (c *Commands) malformed(ctx context.Context, input string, err error) error {
	merr := &domain.MalformedInputError{Input: input, Err: err}
	c.Notifier.Error(ctx, merr.Error())
	return merr
}
