package service

import (
	"context"
	"sync"
)

// ExportedSessionGuard is an exported alias so _test packages can test the guard.
type ExportedSessionGuard = sessionGuard

// ─────────────────────────────────────────────────────────────
// sessionGuard: one dispatch at a time per session
// ─────────────────────────────────────────────────────────────

// sessionGuard serializes work per key. A second Lock for a held key waits
// until the holder releases it; different keys never contend.
type sessionGuard struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	wg    sync.WaitGroup
}

func (g *sessionGuard) slot(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.slots == nil {
		g.slots = make(map[string]chan struct{})
	}
	s, ok := g.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		g.slots[key] = s
	}
	return s
}

// Lock blocks until key is free or ctx is done. The returned release func is
// safe to call more than once.
func (g *sessionGuard) Lock(ctx context.Context, key string) (release func(), err error) {
	s := g.slot(key)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.held(s), nil
}

// TryLock takes key only if nobody holds it.
func (g *sessionGuard) TryLock(key string) (release func(), ok bool) {
	s := g.slot(key)
	select {
	case s <- struct{}{}:
	default:
		return nil, false
	}
	return g.held(s), true
}

func (g *sessionGuard) held(s chan struct{}) func() {
	g.wg.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s
			g.wg.Done()
		})
	}
}

// WaitAll blocks until every held key is released or ctx is cancelled.
func (g *sessionGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
