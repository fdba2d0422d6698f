package capture

import (
	"context"
	"sync"
	"time"
)

// FakeStep is one scripted Read outcome.
type FakeStep struct {
	JPEG []byte
	Err  error
}

// FakeSource returns scripted frames and errors. Once the script is
// exhausted, Read blocks until ctx is done and Done is closed.
type FakeSource struct {
	mu     sync.Mutex
	steps  []FakeStep
	index  int
	seq    uint64
	reads  int
	closed bool

	done     chan struct{}
	doneOnce sync.Once

	// Now, if set, stamps frames instead of time.Now.
	Now func() time.Time
}

// NewFakeSource creates a FakeSource with the given script.
func NewFakeSource(steps ...FakeStep) *FakeSource {
	return &FakeSource{steps: steps, done: make(chan struct{})}
}

// Read returns the next scripted step.
func (f *FakeSource) Read(ctx context.Context) (Frame, error) {
	f.mu.Lock()
	f.reads++
	if f.index >= len(f.steps) {
		f.mu.Unlock()
		f.doneOnce.Do(func() { close(f.done) })
		<-ctx.Done()
		return Frame{}, ctx.Err()
	}
	step := f.steps[f.index]
	f.index++
	if step.Err != nil {
		f.mu.Unlock()
		return Frame{}, step.Err
	}
	f.seq++
	frame := Frame{Seq: f.seq, Captured: f.now(), JPEG: step.JPEG}
	f.mu.Unlock()
	return frame, nil
}

// Done is closed once every scripted step has been consumed.
func (f *FakeSource) Done() <-chan struct{} {
	return f.done
}

// Reads returns the number of Read calls.
func (f *FakeSource) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeSource) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
