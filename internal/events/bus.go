package events

import (
	"context"
	"sync"

	"mongorunner/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Event bus: in-process fan-out between core components
// ─────────────────────────────────────────────────────────────

// Topic names a class of notification on the bus.
type Topic string

const (
	Connect           Topic = "connect"
	Disconnect        Topic = "disconnect"
	Refresh           Topic = "refresh"
	AttributesFetched Topic = "attributes-fetched"
	TreeChanged       Topic = "tree-changed"
	OutputRendered    Topic = "output-rendered"
)

// Handler receives a published payload.
type Handler func(ctx context.Context, payload any)

// EventEmitter is the untyped emission surface. The MCP approval queue and
// the CLI notify through this interface, so tests can pass a MockEmitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

type subscription struct {
	id int
	fn Handler
}

// Bus delivers every published payload synchronously to the subscribers of
// its topic, in subscription order. Nothing is persisted or replayed.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers payload to the current subscribers of topic.
// Handlers run on the caller's goroutine; the subscriber list is snapshotted
// so a handler may subscribe or unsubscribe without deadlocking.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) {
	b.mu.RLock()
	list := make([]subscription, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range list {
		s.fn(ctx, payload)
	}
}

// Emit implements EventEmitter by publishing on the topic named event.
func (b *Bus) Emit(ctx context.Context, event string, data any) {
	b.Publish(ctx, Topic(event), data)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Payloads

// ConnectEvent is published when a connection has been (re)inspected.
type ConnectEvent struct {
	ConnectionID string
	Name         string
	Topology     *domain.Topology
}

// DisconnectEvent is published after a driver has been closed.
type DisconnectEvent struct {
	ConnectionID string
}

// AttributesEvent carries sampled collection attributes.
type AttributesEvent struct {
	ConnectionID   string
	DatabaseName   string
	CollectionName string
	Attributes     []domain.FieldInfo
}

// OutputEvent is published after a result has been written to an output buffer.
type OutputEvent struct {
	BufferID  string
	OutputRef string
}

// RefreshEvent is published before a connected deployment is re-inspected.
type RefreshEvent struct {
	ConnectionID string
}

// TreeEvent is published whenever the display tree of a connection changed.
type TreeEvent struct {
	ConnectionID string
}
