package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"mongorunner/internal/domain"
	"mongorunner/internal/editor"
)

// ─────────────────────────────────────────────────────────────
// Session Binding Table: editor buffer → connection + database
// ─────────────────────────────────────────────────────────────

// StatusSource reports connection status; *Registry satisfies it.
type StatusSource interface {
	Status(connectionID string) domain.ConnectStatus
}

// SessionTable owns every Session. Session fields are only read or written
// under its lock; callers get pointers as stable identities.
type SessionTable struct {
	host     editor.Host
	statuses StatusSource

	mu       sync.RWMutex
	sessions map[domain.BufferRef]*domain.Session

	guard   sessionGuard
	unwatch func()
}

// NewSessionTable creates a table bound to host's close events.
func NewSessionTable(host editor.Host, statuses StatusSource) *SessionTable {
	t := &SessionTable{
		host:     host,
		statuses: statuses,
		sessions: make(map[domain.BufferRef]*domain.Session),
	}
	t.unwatch = host.OnClose(t.onBufferClosed)
	return t
}

// Close stops following host close events.
func (t *SessionTable) Close() {
	if t.unwatch != nil {
		t.unwatch()
	}
}

// onBufferClosed destroys the session of a closed source buffer and detaches
// a closed output buffer from whichever session owned it.
func (t *SessionTable) onBufferClosed(ref domain.BufferRef) {
	t.DestroySession(ref)
	t.DetachOutputBuffer(ref)
}

func (t *SessionTable) CreateSession(bufferID domain.BufferRef, connectionID, databaseName string) (*domain.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[bufferID]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateSession, bufferID)
	}
	s := &domain.Session{ID: bufferID, ConnectionID: connectionID, DatabaseName: databaseName}
	t.sessions[bufferID] = s
	log.Printf("[SESSION] bound %s to %s/%s", bufferID, connectionID, databaseName)
	return s, nil
}

func (t *SessionTable) GetSession(bufferID domain.BufferRef) (*domain.Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[bufferID]
	return s, ok
}

// Snapshot returns a copy of the session bound to bufferID.
func (t *SessionTable) Snapshot(bufferID domain.BufferRef) (domain.Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[bufferID]
	if !ok {
		return domain.Session{}, false
	}
	return *s, true
}

// Sessions returns copies of all sessions ordered by buffer id.
func (t *SessionTable) Sessions() []domain.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *SessionTable) DestroySession(bufferID domain.BufferRef) {
	t.mu.Lock()
	_, ok := t.sessions[bufferID]
	delete(t.sessions, bufferID)
	t.mu.Unlock()
	if ok {
		log.Printf("[SESSION] destroyed %s", bufferID)
	}
}

// AttachOutputBuffer binds ref as the session's output buffer. Re-attaching
// the bound ref is a no-op; a new ref moves the append cursor to the end of
// that buffer's current content.
func (t *SessionTable) AttachOutputBuffer(s *domain.Session, ref domain.BufferRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.OutputBuffer == ref {
		return nil
	}
	end, err := t.host.End(ref)
	if err != nil {
		return fmt.Errorf("attach output buffer: %w", err)
	}
	version, err := t.host.Version(ref)
	if err != nil {
		return fmt.Errorf("attach output buffer: %w", err)
	}
	s.OutputBuffer = ref
	s.AppendCursor = end
	s.OutputVersion = version
	return nil
}

// DetachOutputBuffer clears ref from any session that uses it as output.
func (t *SessionTable) DetachOutputBuffer(ref domain.BufferRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		if s.OutputBuffer == ref {
			s.OutputBuffer = ""
			s.AppendCursor = domain.Position{}
			s.OutputVersion = 0
		}
	}
}

// IsConnectionActive reports whether connectionID is Connected.
func (t *SessionTable) IsConnectionActive(connectionID string) bool {
	return t.statuses.Status(connectionID) == domain.ConnectStatusConnected
}

// Acquire serializes dispatches for one session. A second caller for the
// same buffer waits; other buffers are unaffected.
func (t *SessionTable) Acquire(ctx context.Context, bufferID domain.BufferRef) (release func(), err error) {
	return t.guard.Lock(ctx, string(bufferID))
}

// WaitIdle blocks until no dispatch holds a session or ctx is done.
func (t *SessionTable) WaitIdle(ctx context.Context) {
	t.guard.WaitAll(ctx)
}

// outputState reads the render bookkeeping of s.
func (t *SessionTable) outputState(s *domain.Session) (ref domain.BufferRef, cursor domain.Position, version int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return s.OutputBuffer, s.AppendCursor, s.OutputVersion
}

// advance records a write into ref. It is dropped when ref was detached or
// replaced in the meantime.
func (t *SessionTable) advance(s *domain.Session, ref domain.BufferRef, cursor domain.Position, version int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.OutputBuffer != ref {
		return
	}
	s.AppendCursor = cursor
	s.OutputVersion = version
}
