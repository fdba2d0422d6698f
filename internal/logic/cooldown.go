package logic

import (
	"sync"
	"time"
)

// Gate suppresses repeated dispatches for the same identity within a window.
// Safe for concurrent use.
type Gate struct {
	window time.Duration

	mu   sync.Mutex
	last map[Identity]time.Time
}

// NewGate creates a cooldown gate with the given window.
func NewGate(window time.Duration) *Gate {
	return &Gate{
		window: window,
		last:   make(map[Identity]time.Time),
	}
}

// Window returns the configured cooldown window.
func (g *Gate) Window() time.Duration {
	return g.window
}

// ShouldTrigger reports whether a dispatch for id is allowed at now.
// Unknown identities never trigger. The caller must call RecordTrigger
// exactly once if it proceeds to dispatch.
func (g *Gate) ShouldTrigger(id Identity, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ok, _ := g.check(id, now)
	return ok
}

// RecordTrigger stores now as the last trigger time for id.
func (g *Gate) RecordTrigger(id Identity, now time.Time) {
	if !id.IsKnown() {
		return
	}
	g.mu.Lock()
	g.last[id] = now
	g.mu.Unlock()
}

// TryTrigger performs ShouldTrigger and RecordTrigger as one critical section.
// When suppressed it returns the cooldown time remaining for id.
func (g *Gate) TryTrigger(id Identity, now time.Time) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ok, remaining := g.check(id, now)
	if ok {
		g.last[id] = now
	}
	return ok, remaining
}

// LastTrigger returns the last recorded trigger time for id.
func (g *Gate) LastTrigger(id Identity) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.last[id]
	return t, ok
}

// check must be called with g.mu held.
func (g *Gate) check(id Identity, now time.Time) (bool, time.Duration) {
	if !id.IsKnown() {
		return false, 0
	}
	last, seen := g.last[id]
	if !seen {
		return true, 0
	}
	elapsed := now.Sub(last)
	if elapsed >= g.window {
		return true, 0
	}
	return false, g.window - elapsed
}
