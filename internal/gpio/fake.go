package gpio

import (
	"sync"
	"time"
)

// FakeIndicator records pulses for test assertions. Safe for concurrent use.
type FakeIndicator struct {
	mu sync.Mutex
	pulser

	// PulseError, if set, will be returned by Pulse()
	PulseError error

	pulses []time.Duration
	lit    bool
	closed bool
}

// NewFakeIndicator creates a FakeIndicator.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Pulse records d and lights the fake line until d elapses.
func (f *FakeIndicator) Pulse(d time.Duration) error {
	f.mu.Lock()
	if f.PulseError != nil {
		f.mu.Unlock()
		return f.PulseError
	}
	f.pulses = append(f.pulses, d)
	f.lit = true
	f.mu.Unlock()

	f.schedule(d, func() {
		f.mu.Lock()
		f.lit = false
		f.mu.Unlock()
	})
	return nil
}

// Close marks the indicator as closed and turns it off.
func (f *FakeIndicator) Close() error {
	f.stop()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lit = false
	f.closed = true
	return nil
}

// Pulses returns the durations passed to Pulse.
func (f *FakeIndicator) Pulses() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.pulses...)
}

// Lit reports whether the fake line is currently on.
func (f *FakeIndicator) Lit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lit
}

// Closed reports whether Close was called.
func (f *FakeIndicator) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
