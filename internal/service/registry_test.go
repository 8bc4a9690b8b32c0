package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"mongorunner/internal/domain"
	"mongorunner/internal/events"
	"mongorunner/internal/secret"
	"mongorunner/internal/service"
)

// recorder collects bus payloads per topic.
type recorder struct {
	mu   sync.Mutex
	seen map[events.Topic][]any
}

func record(bus *events.Bus, topics ...events.Topic) *recorder {
	r := &recorder{seen: map[events.Topic][]any{}}
	for _, topic := range topics {
		bus.Subscribe(topic, func(_ context.Context, payload any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.seen[topic] = append(r.seen[topic], payload)
		})
	}
	return r
}

func (r *recorder) get(topic events.Topic) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.seen[topic]...)
}

func TestRegistry_ConnectPublishesTopology(t *testing.T) {
	h := newHarness(t)
	h.driver.Seed("shop", "orders", bson.D{{Key: "_id", Value: 1}})
	rec := record(h.bus, events.Connect)
	id := h.addConnection(t)

	require.NoError(t, h.registry.Connect(context.Background(), id))

	assert.Equal(t, []string{"pw"}, h.passwords)
	assert.Equal(t, domain.ConnectStatusConnected, h.registry.Status(id))
	assert.Equal(t, []string{id}, h.registry.ListActive())

	got := rec.get(events.Connect)
	require.Len(t, got, 1)
	ev := got[0].(events.ConnectEvent)
	assert.Equal(t, "local", ev.Name)
	require.NotNil(t, ev.Topology)
	require.Len(t, ev.Topology.Databases, 1)
	assert.Equal(t, "orders", ev.Topology.Databases[0].Collections[0].Name)

	handle, err := h.registry.GetHandle(id)
	require.NoError(t, err)
	assert.Same(t, h.driver, handle.Driver)
}

func TestRegistry_ConnectTwiceRefreshes(t *testing.T) {
	h := newHarness(t)
	rec := record(h.bus, events.Connect, events.Refresh)
	id := h.connected(t)

	require.NoError(t, h.registry.Connect(context.Background(), id))

	assert.Len(t, h.passwords, 1, "driver opened once")
	assert.Len(t, rec.get(events.Refresh), 1)
	assert.Len(t, rec.get(events.Connect), 2)
}

func TestRegistry_ConnectFailureMarksError(t *testing.T) {
	h := newHarness(t)
	h.openErr = errors.New("server selection timeout")
	rec := record(h.bus, events.Connect)
	id := h.addConnection(t)

	err := h.registry.Connect(context.Background(), id)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "server selection timeout")
	assert.Equal(t, domain.ConnectStatusError, h.registry.Status(id))
	assert.Empty(t, rec.get(events.Connect))

	handle, err := h.registry.GetHandle(id)
	assert.ErrorIs(t, err, domain.ErrConnectionInactive)
	assert.EqualError(t, handle.Err, "server selection timeout")

	// a later attempt may succeed
	h.openErr = nil
	require.NoError(t, h.registry.Connect(context.Background(), id))
	assert.Equal(t, domain.ConnectStatusConnected, h.registry.Status(id))
}

func TestRegistry_ConnectUnknownID(t *testing.T) {
	h := newHarness(t)

	err := h.registry.Connect(context.Background(), "nope")

	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestRegistry_DisconnectClosesDriver(t *testing.T) {
	h := newHarness(t)
	rec := record(h.bus, events.Disconnect)
	id := h.connected(t)

	require.NoError(t, h.registry.Disconnect(context.Background(), id))

	assert.True(t, h.driver.Closed())
	assert.Equal(t, domain.ConnectStatusDisconnected, h.registry.Status(id))
	assert.Empty(t, h.registry.ListActive())
	assert.Len(t, rec.get(events.Disconnect), 1)

	// unknown or already closed ids are a no-op
	require.NoError(t, h.registry.Disconnect(context.Background(), id))
	assert.Len(t, rec.get(events.Disconnect), 1)
}

func TestRegistry_RefreshRequiresConnection(t *testing.T) {
	h := newHarness(t)
	id := h.addConnection(t)

	err := h.registry.Refresh(context.Background(), id)

	assert.ErrorIs(t, err, domain.ErrConnectionInactive)
}

func TestRegistry_RefreshAll(t *testing.T) {
	h := newHarness(t)
	rec := record(h.bus, events.Refresh)
	a := h.connected(t)
	b := h.connected(t)

	require.NoError(t, h.registry.RefreshAll(context.Background()))

	var ids []string
	for _, p := range rec.get(events.Refresh) {
		ids = append(ids, p.(events.RefreshEvent).ConnectionID)
	}
	assert.ElementsMatch(t, []string{a, b}, ids)
}

func TestRegistry_ScheduleRefreshRejectsBadExpression(t *testing.T) {
	h := newHarness(t)

	err := h.registry.ScheduleRefresh(context.Background(), "every now and then")

	assert.Error(t, err)
	require.NoError(t, h.registry.ScheduleRefresh(context.Background(), "@every 1h"))
	require.NoError(t, h.registry.Close(context.Background()))
}

func TestRegistry_DeleteRemovesSecretAndHandle(t *testing.T) {
	h := newHarness(t)
	id := h.connected(t)

	require.NoError(t, h.registry.DeleteConnection(context.Background(), id))

	pw, err := h.secrets.Get(secret.ConnectionKey(id))
	require.NoError(t, err)
	assert.Nil(t, pw)
	assert.True(t, h.driver.Closed())
	_, err = h.registry.GetConnection(id)
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestRegistry_UpdateKeepsPasswordWhenBlank(t *testing.T) {
	h := newHarness(t)
	id := h.addConnection(t)

	require.NoError(t, h.registry.UpdateConnection(id, service.ConnectionInput{Name: "renamed", Host: "db", Port: 27018}))

	conn, err := h.registry.GetConnection(id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", conn.Name)
	pw, _ := h.secrets.Get(secret.ConnectionKey(id))
	assert.Equal(t, "pw", string(pw))
}

func TestRegistry_ConnectOnStartup(t *testing.T) {
	h := newHarness(t)
	eager, err := h.registry.CreateConnection(service.ConnectionInput{Name: "eager", Host: "a", Port: 1, ActiveOnStartup: true})
	require.NoError(t, err)
	lazy := h.addConnection(t)

	h.registry.ConnectOnStartup(context.Background())

	assert.Equal(t, domain.ConnectStatusConnected, h.registry.Status(eager.ID))
	assert.Equal(t, domain.ConnectStatusDisconnected, h.registry.Status(lazy))
}

func TestRegistry_CloseDisconnectsAll(t *testing.T) {
	h := newHarness(t)
	a := h.connected(t)
	b := h.connected(t)

	require.NoError(t, h.registry.Close(context.Background()))

	assert.Equal(t, domain.ConnectStatusDisconnected, h.registry.Status(a))
	assert.Equal(t, domain.ConnectStatusDisconnected, h.registry.Status(b))
}

func TestRegistry_DisconnectWhileConnecting(t *testing.T) {
	h := newHarness(t)
	id := h.addConnection(t)
	opening := make(chan struct{})
	release := make(chan struct{})
	h.beforeOpen = func() {
		close(opening)
		<-release
	}
	rec := record(h.bus, events.Connect)

	done := make(chan error, 1)
	go func() { done <- h.registry.Connect(context.Background(), id) }()

	<-opening
	assert.Equal(t, domain.ConnectStatusConnecting, h.registry.Status(id))
	require.NoError(t, h.registry.Disconnect(context.Background(), id))
	close(release)

	err := <-done
	require.ErrorIs(t, err, service.ErrConnectAborted)
	assert.Equal(t, domain.ConnectStatusDisconnected, h.registry.Status(id))
	assert.Empty(t, h.registry.ListActive())
	assert.True(t, h.driver.Closed(), "driver opened after the disconnect must be closed")
	assert.Empty(t, rec.get(events.Connect))
}
