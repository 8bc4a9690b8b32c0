package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mongorunner/internal/dbclient"
	"mongorunner/internal/dbclient/dbtest"
	"mongorunner/internal/domain"
	"mongorunner/internal/editor"
	"mongorunner/internal/events"
	"mongorunner/internal/sandbox"
	"mongorunner/internal/secret"
	"mongorunner/internal/service"
)

// memStore is a map-backed DatabaseConnectionStore.
type memStore struct {
	mu    sync.Mutex
	conns map[string]domain.DatabaseConnection
}

func newMemStore() *memStore {
	return &memStore{conns: map[string]domain.DatabaseConnection{}}
}

func (s *memStore) CreateConnection(c *domain.DatabaseConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID] = *c
	return nil
}

func (s *memStore) GetConnection(id string) (*domain.DatabaseConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	return &c, nil
}

func (s *memStore) ListConnections() ([]domain.DatabaseConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DatabaseConnection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) UpdateConnection(c *domain.DatabaseConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.ID]; !ok {
		return domain.ErrConnectionNotFound
	}
	s.conns[c.ID] = *c
	return nil
}

func (s *memStore) DeleteConnection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
	return nil
}

// scriptedPrompter answers prompts from fixed values and records questions.
type scriptedPrompter struct {
	confirm bool
	input   string
	asked   []string
}

func (p *scriptedPrompter) Confirm(_ context.Context, message string) (bool, error) {
	p.asked = append(p.asked, message)
	return p.confirm, nil
}

func (p *scriptedPrompter) InputText(_ context.Context, placeholder string) (string, bool, error) {
	p.asked = append(p.asked, placeholder)
	return p.input, p.input != "", nil
}

type harness struct {
	bus      *events.Bus
	host     *editor.MemoryHost
	store    *memStore
	secrets  *secret.MemoryStore
	driver   *dbtest.Driver
	notifier *service.RecordingNotifier
	prompter *scriptedPrompter

	registry   *service.Registry
	table      *service.SessionTable
	renderer   *service.Renderer
	dispatcher *service.Dispatcher
	commands   *service.Commands

	openErr   error
	passwords []string
	// beforeOpen, when set, runs inside the opener before it returns.
	beforeOpen func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:      events.NewBus(),
		host:     editor.NewMemoryHost(),
		store:    newMemStore(),
		secrets:  secret.NewMemoryStore(),
		driver:   dbtest.NewDriver(),
		notifier: &service.RecordingNotifier{},
		prompter: &scriptedPrompter{},
	}
	open := func(_ context.Context, _ *domain.DatabaseConnection, password string) (dbclient.Driver, error) {
		h.passwords = append(h.passwords, password)
		if h.beforeOpen != nil {
			h.beforeOpen()
		}
		if h.openErr != nil {
			return nil, h.openErr
		}
		return h.driver, nil
	}
	h.registry = service.NewRegistry(h.store, h.secrets, open, h.bus)
	h.table = service.NewSessionTable(h.host, h.registry)
	h.renderer = service.NewRenderer(h.host, h.table, h.bus)
	h.dispatcher = service.NewDispatcher(h.table, h.registry, sandbox.NewExecutor(time.Second), h.renderer, h.host, h.notifier)
	h.commands = service.NewCommands(service.CommandDeps{
		Registry:   h.registry,
		Table:      h.table,
		Dispatcher: h.dispatcher,
		Renderer:   h.renderer,
		Host:       h.host,
		Bus:        h.bus,
		Prompter:   h.prompter,
		Notifier:   h.notifier,
	})
	t.Cleanup(h.table.Close)
	return h
}

// addConnection stores a connection without connecting it.
func (h *harness) addConnection(t *testing.T) string {
	t.Helper()
	conn, err := h.registry.CreateConnection(service.ConnectionInput{
		Name:     "local",
		Host:     "localhost",
		Port:     27017,
		Database: "shop",
		Password: "pw",
	})
	require.NoError(t, err)
	return conn.ID
}

// connected stores and connects a connection.
func (h *harness) connected(t *testing.T) string {
	t.Helper()
	id := h.addConnection(t)
	require.NoError(t, h.registry.Connect(context.Background(), id))
	return id
}

// session opens a visible source buffer bound to connectionID/dbName.
func (h *harness) session(t *testing.T, connectionID, dbName, content string) (domain.BufferRef, *domain.Session) {
	t.Helper()
	ctx := context.Background()
	ref, err := h.host.OpenBuffer(ctx, content, editor.LanguageRunner)
	require.NoError(t, err)
	_, err = h.host.Show(ctx, ref, 1)
	require.NoError(t, err)
	s, err := h.table.CreateSession(ref, connectionID, dbName)
	require.NoError(t, err)
	return ref, s
}

func (h *harness) outputText(t *testing.T, bufferID domain.BufferRef) string {
	t.Helper()
	s, ok := h.table.Snapshot(bufferID)
	require.True(t, ok)
	require.True(t, s.HasOutput(), "no output buffer bound")
	text, err := h.host.Text(s.OutputBuffer)
	require.NoError(t, err)
	return text
}

func (h *harness) errorNotices() []string {
	var out []string
	for _, n := range h.notifier.Drain() {
		if n.Level == "error" {
			out = append(out, n.Message)
		}
	}
	return out
}
