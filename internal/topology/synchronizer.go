package topology

import (
	"context"
	"log"
	"sort"
	"sync"

	"mongorunner/internal/domain"
	"mongorunner/internal/events"
)

type connectionTree struct {
	root   *Node
	status domain.ConnectStatus
}

// Synchronizer keeps one display tree per connection up to date from bus
// events. It only talks to the bus; nothing here writes output buffers.
type Synchronizer struct {
	bus *events.Bus

	mu    sync.RWMutex
	trees map[string]*connectionTree

	unsubs []func()
}

// NewSynchronizer subscribes to the connection lifecycle topics on bus.
func NewSynchronizer(bus *events.Bus) *Synchronizer {
	s := &Synchronizer{bus: bus, trees: make(map[string]*connectionTree)}
	s.unsubs = []func(){
		bus.Subscribe(events.Connect, s.onConnect),
		bus.Subscribe(events.Disconnect, s.onDisconnect),
		bus.Subscribe(events.Refresh, s.onRefresh),
		bus.Subscribe(events.AttributesFetched, s.onAttributes),
	}
	return s
}

// Close detaches the synchronizer from the bus.
func (s *Synchronizer) Close() {
	for _, u := range s.unsubs {
		u()
	}
}

func (s *Synchronizer) onConnect(ctx context.Context, payload any) {
	ev, ok := payload.(events.ConnectEvent)
	if !ok {
		return
	}
	root := &Node{
		ID:       connectionPrefix + ev.ConnectionID,
		Name:     ev.Name,
		Type:     NodeTypeConnection,
		Children: Rebuild(ev.Topology),
	}
	if root.Name == "" {
		root.Name = ev.ConnectionID
	}

	s.mu.Lock()
	s.trees[ev.ConnectionID] = &connectionTree{root: root, status: domain.ConnectStatusConnected}
	s.mu.Unlock()

	s.bus.Publish(ctx, events.TreeChanged, events.TreeEvent{ConnectionID: ev.ConnectionID})
}

func (s *Synchronizer) onDisconnect(ctx context.Context, payload any) {
	ev, ok := payload.(events.DisconnectEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	t, found := s.trees[ev.ConnectionID]
	if found {
		t.status = domain.ConnectStatusDisconnected
		t.root.Children = nil
	}
	s.mu.Unlock()

	if found {
		s.bus.Publish(ctx, events.TreeChanged, events.TreeEvent{ConnectionID: ev.ConnectionID})
	}
}

func (s *Synchronizer) onRefresh(_ context.Context, payload any) {
	ev, ok := payload.(events.RefreshEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	if t, found := s.trees[ev.ConnectionID]; found {
		t.status = domain.ConnectStatusConnecting
	}
	s.mu.Unlock()
}

func (s *Synchronizer) onAttributes(ctx context.Context, payload any) {
	ev, ok := payload.(events.AttributesEvent)
	if !ok {
		return
	}
	s.MergeAttributes(ctx, ev.ConnectionID, ev.DatabaseName, ev.CollectionName, ev.Attributes)
}

// MergeAttributes stores attributes on the collection node named colName
// inside database dbName. Exactly one database and one collection must match;
// otherwise nothing changes and false is returned.
func (s *Synchronizer) MergeAttributes(ctx context.Context, connectionID, dbName, colName string, attributes []domain.FieldInfo) bool {
	s.mu.Lock()
	t, ok := s.trees[connectionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	col := findCollection(t.root.Children, dbName, colName)
	if col == nil {
		s.mu.Unlock()
		log.Printf("[TREE] no unique match for %s.%s on %s, attributes dropped", dbName, colName, connectionID)
		return false
	}
	col.Attributes = fieldNodes(col.ID, attributes)
	s.mu.Unlock()

	s.bus.Publish(ctx, events.TreeChanged, events.TreeEvent{ConnectionID: connectionID})
	return true
}

func findCollection(top []*Node, dbName, colName string) *Node {
	var db *Node
	matches := 0
	for _, group := range top {
		if group.Type != NodeTypeDatabases {
			continue
		}
		for _, d := range group.Children {
			if d.Name == dbName {
				db = d
				matches++
			}
		}
	}
	if matches != 1 {
		return nil
	}

	var col *Node
	matches = 0
	for _, c := range db.Collections {
		if c.Name == colName {
			col = c
			matches++
		}
	}
	if matches != 1 {
		return nil
	}
	return col
}

// Roots returns one CONNECTION node per known connection, ordered by name.
func (s *Synchronizer) Roots() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, len(s.trees))
	for _, t := range s.trees {
		out = append(out, t.root)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tree returns the top-level nodes of one connection.
func (s *Synchronizer) Tree(connectionID string) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.trees[connectionID]; ok {
		return t.root.Children
	}
	return nil
}

// Status reports the last known status of a connection's tree.
func (s *Synchronizer) Status(connectionID string) domain.ConnectStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.trees[connectionID]; ok {
		return t.status
	}
	return domain.ConnectStatusDisconnected
}

// Children is the locked form of the package-level Children, safe to call
// while attribute merges are in flight.
func (s *Synchronizer) Children(node *Node) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Children(node)
}

// Walk is the locked form of the package-level Walk. fn must not call back
// into s.
func (s *Synchronizer) Walk(nodes []*Node, fn func(depth int, n *Node)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	Walk(nodes, fn)
}
