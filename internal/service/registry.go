package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"mongorunner/internal/dbclient"
	"mongorunner/internal/domain"
	"mongorunner/internal/events"
	"mongorunner/internal/secret"
)

// ─────────────────────────────────────────────────────────────
// Connection Registry: live driver handles keyed by connection id
// ─────────────────────────────────────────────────────────────

// ConnectionInput is the DTO for creating or updating a stored connection.
type ConnectionInput struct {
	Name            string `json:"name"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Database        string `json:"database"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	ExtraJSON       string `json:"extraJson"`
	ActiveOnStartup bool   `json:"activeOnStartup"`
}

// ConnectionHandle is a read-only snapshot of one registry entry.
type ConnectionHandle struct {
	ID     string
	Name   string
	Status domain.ConnectStatus
	Driver dbclient.Driver
	Err    error // last connect error when Status is Error
}

// ErrConnectAborted is returned by Connect when the connection was
// disconnected before its driver finished opening.
var ErrConnectAborted = errors.New("connection was disconnected while connecting")

type handle struct {
	name        string
	status      domain.ConnectStatus
	driver      dbclient.Driver
	err         error
	connectedAt time.Time
}

// Registry owns every live driver. Nothing else opens or closes one.
type Registry struct {
	store   domain.DatabaseConnectionStore
	secrets secret.SecretStore
	open    dbclient.Opener
	bus     *events.Bus

	mu      sync.Mutex
	handles map[string]*handle

	cronSched *cron.Cron
}

// NewRegistry creates a Registry. A nil opener means dbclient.Open.
func NewRegistry(store domain.DatabaseConnectionStore, secrets secret.SecretStore, open dbclient.Opener, bus *events.Bus) *Registry {
	if open == nil {
		open = dbclient.Open
	}
	return &Registry{
		store:   store,
		secrets: secrets,
		open:    open,
		bus:     bus,
		handles: make(map[string]*handle),
	}
}

// ── Connection CRUD ────────────────────────────────────────

func (r *Registry) ListConnections() ([]domain.DatabaseConnection, error) {
	return r.store.ListConnections()
}

func (r *Registry) GetConnection(id string) (*domain.DatabaseConnection, error) {
	return r.store.GetConnection(id)
}

func (r *Registry) CreateConnection(input ConnectionInput) (*domain.DatabaseConnection, error) {
	conn := &domain.DatabaseConnection{
		ID:              uuid.NewString(),
		Name:            input.Name,
		Host:            input.Host,
		Port:            input.Port,
		Database:        input.Database,
		Username:        input.Username,
		ExtraJSON:       input.ExtraJSON,
		ActiveOnStartup: input.ActiveOnStartup,
	}
	if err := r.store.CreateConnection(conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	if input.Password != "" && r.secrets != nil {
		if err := r.secrets.Set(secret.ConnectionKey(conn.ID), []byte(input.Password)); err != nil {
			log.Printf("[REGISTRY] store password for %s: %v", conn.Name, err)
		}
	}
	return conn, nil
}

// UpdateConnection rewrites the stored configuration. A live handle keeps its
// driver until the next Connect; rebinding sessions is up to the caller.
func (r *Registry) UpdateConnection(id string, input ConnectionInput) error {
	conn, err := r.store.GetConnection(id)
	if err != nil {
		return err
	}
	conn.Name = input.Name
	conn.Host = input.Host
	conn.Port = input.Port
	conn.Database = input.Database
	conn.Username = input.Username
	conn.ExtraJSON = input.ExtraJSON
	conn.ActiveOnStartup = input.ActiveOnStartup
	if err := r.store.UpdateConnection(conn); err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	if input.Password != "" && r.secrets != nil {
		_ = r.secrets.Set(secret.ConnectionKey(id), []byte(input.Password))
	}
	return nil
}

func (r *Registry) DeleteConnection(ctx context.Context, id string) error {
	if err := r.Disconnect(ctx, id); err != nil {
		log.Printf("[REGISTRY] disconnect before delete %s: %v", id, err)
	}
	if r.secrets != nil {
		_ = r.secrets.Delete(secret.ConnectionKey(id))
	}
	return r.store.DeleteConnection(id)
}

// ── Handles ────────────────────────────────────────────────

// GetHandle returns the handle for id. The error is ErrConnectionInactive
// whenever the handle is not Connected; the snapshot is still filled in.
func (r *Registry) GetHandle(id string) (ConnectionHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return ConnectionHandle{ID: id, Status: domain.ConnectStatusDisconnected}, fmt.Errorf("%w: %s", domain.ErrConnectionInactive, id)
	}
	snap := ConnectionHandle{ID: id, Name: h.name, Status: h.status, Driver: h.driver, Err: h.err}
	if h.status != domain.ConnectStatusConnected {
		return snap, fmt.Errorf("%w: %s", domain.ErrConnectionInactive, h.name)
	}
	return snap, nil
}

// Status reports the status of id; unknown ids are Disconnected.
func (r *Registry) Status(id string) domain.ConnectStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[id]; ok {
		return h.status
	}
	return domain.ConnectStatusDisconnected
}

// ListActive returns the ids of Connected handles, sorted.
func (r *Registry) ListActive() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, h := range r.handles {
		if h.status == domain.ConnectStatusConnected {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Connect opens a driver for a stored connection, inspects the deployment and
// publishes Connect. Connecting an already connected id refreshes it instead.
func (r *Registry) Connect(ctx context.Context, id string) error {
	conn, err := r.store.GetConnection(id)
	if err != nil {
		return fmt.Errorf("get connection %s: %w", id, err)
	}

	r.mu.Lock()
	if h, ok := r.handles[id]; ok {
		switch h.status {
		case domain.ConnectStatusConnected:
			r.mu.Unlock()
			return r.Refresh(ctx, id)
		case domain.ConnectStatusConnecting:
			r.mu.Unlock()
			return fmt.Errorf("connection %s is already connecting", conn.Name)
		}
	}
	pending := &handle{name: conn.Name, status: domain.ConnectStatusConnecting}
	r.handles[id] = pending
	r.mu.Unlock()

	var password string
	if r.secrets != nil {
		pw, err := r.secrets.Get(secret.ConnectionKey(id))
		if err != nil {
			log.Printf("[REGISTRY] read password for %s: %v", conn.Name, err)
		}
		password = string(pw)
	}

	driver, err := r.open(ctx, conn, password)

	r.mu.Lock()
	if r.handles[id] != pending {
		// Disconnected while the driver was opening.
		r.mu.Unlock()
		if driver != nil {
			if cerr := driver.Close(ctx); cerr != nil {
				log.Printf("[REGISTRY] close abandoned driver for %s: %v", conn.Name, cerr)
			}
		}
		return fmt.Errorf("connect %s: %w", conn.Name, ErrConnectAborted)
	}
	if err != nil {
		r.handles[id] = &handle{name: conn.Name, status: domain.ConnectStatusError, err: err}
		r.mu.Unlock()
		log.Printf("[REGISTRY] connect %s failed: %v", conn.Name, err)
		return fmt.Errorf("connect %s: %w", conn.Name, err)
	}
	r.handles[id] = &handle{name: conn.Name, status: domain.ConnectStatusConnected, driver: driver, connectedAt: time.Now()}
	r.mu.Unlock()
	log.Printf("[REGISTRY] connected %s (%s)", conn.Name, id)

	r.inspect(ctx, id, conn.Name, driver)
	return nil
}

// inspect publishes the deployment topology. A failed inspection still
// publishes, with an empty tree, since the connection itself is usable.
func (r *Registry) inspect(ctx context.Context, id, name string, driver dbclient.Driver) {
	topo, err := driver.Inspect(ctx)
	if err != nil {
		log.Printf("[REGISTRY] inspect %s: %v", name, err)
	}
	if r.bus != nil {
		r.bus.Publish(ctx, events.Connect, events.ConnectEvent{ConnectionID: id, Name: name, Topology: topo})
	}
}

// Disconnect closes the driver of id and publishes Disconnect. Unknown ids are
// a no-op.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	var err error
	if h.driver != nil {
		err = h.driver.Close(ctx)
	}
	log.Printf("[REGISTRY] disconnected %s", h.name)
	if r.bus != nil {
		r.bus.Publish(ctx, events.Disconnect, events.DisconnectEvent{ConnectionID: id})
	}
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", h.name, err)
	}
	return nil
}

// Refresh re-inspects a connected deployment and republishes its topology.
func (r *Registry) Refresh(ctx context.Context, id string) error {
	h, err := r.GetHandle(id)
	if err != nil {
		return err
	}
	if r.bus != nil {
		r.bus.Publish(ctx, events.Refresh, events.RefreshEvent{ConnectionID: id})
	}
	r.inspect(ctx, id, h.Name, h.Driver)
	return nil
}

// RefreshAll refreshes every connected handle concurrently.
func (r *Registry) RefreshAll(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)
	for _, id := range r.ListActive() {
		eg.Go(func() error {
			return r.Refresh(egctx, id)
		})
	}
	return eg.Wait()
}

// ConnectOnStartup connects every stored connection flagged ActiveOnStartup.
// Failures are logged and do not stop the others.
func (r *Registry) ConnectOnStartup(ctx context.Context) {
	conns, err := r.store.ListConnections()
	if err != nil {
		log.Printf("[REGISTRY] list connections: %v", err)
		return
	}
	for _, c := range conns {
		if !c.ActiveOnStartup {
			continue
		}
		if err := r.Connect(ctx, c.ID); err != nil {
			log.Printf("[REGISTRY] startup connect %s: %v", c.Name, err)
		}
	}
}

// ScheduleRefresh runs RefreshAll on a cron expression until Close.
func (r *Registry) ScheduleRefresh(ctx context.Context, expr string) error {
	c := cron.New()
	if _, err := c.AddFunc(expr, func() {
		if err := r.RefreshAll(ctx); err != nil {
			log.Printf("[REGISTRY] scheduled refresh: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", expr, err)
	}
	c.Start()

	r.mu.Lock()
	if r.cronSched != nil {
		r.cronSched.Stop()
	}
	r.cronSched = c
	r.mu.Unlock()
	log.Printf("[REGISTRY] refresh scheduled: %s", expr)
	return nil
}

// Close stops the refresh schedule and tears down all drivers.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.cronSched != nil {
		r.cronSched.Stop()
		r.cronSched = nil
	}
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var eg errgroup.Group
	for _, id := range ids {
		eg.Go(func() error {
			return r.Disconnect(ctx, id)
		})
	}
	return eg.Wait()
}
