// Package notify sends best-effort alerts when a known face triggers a dispatch.
package notify

import (
	"context"
	"sync"

	"github.com/sweeney/face-trigger/internal/logic"
)

// Notifier delivers an alert for identity with the frame that triggered it.
// Callers run it off the control loop and only log its error.
type Notifier interface {
	Notify(ctx context.Context, identity logic.Identity, snapshot []byte) error
}

// Nop discards notifications; used when notifications are disabled.
type Nop struct{}

func (Nop) Notify(context.Context, logic.Identity, []byte) error { return nil }

// Call is a notification recorded by Fake.
type Call struct {
	Identity logic.Identity
	Snapshot []byte
}

// Fake records notifications for test assertions. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// Err, if set, will be returned by Notify()
	Err error

	calls []Call
}

// Notify records the call and returns Err.
func (f *Fake) Notify(_ context.Context, identity logic.Identity, snapshot []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Identity: identity, Snapshot: snapshot})
	return f.Err
}

// Calls returns the recorded notifications.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
