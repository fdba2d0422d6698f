// Package gpio drives the status LED that flashes when a command goes out.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"sync"
	"time"
)

// Indicator is a single output line used as a visual acknowledgement.
type Indicator interface {
	// Pulse turns the line on and schedules it off after d.
	// A pulse that arrives while the line is lit extends it.
	Pulse(d time.Duration) error

	// Close turns the line off and releases GPIO resources.
	Close() error
}

// DefaultPulse is how long the LED stays lit per dispatch.
const DefaultPulse = 500 * time.Millisecond

// Nop is an Indicator that does nothing, used when no pin is configured.
type Nop struct{}

func (Nop) Pulse(time.Duration) error { return nil }
func (Nop) Close() error              { return nil }

// pulser holds the off-timer shared by the real and fake indicators.
type pulser struct {
	mu    sync.Mutex
	timer *time.Timer
}

// schedule arranges for off to run after d, replacing any pending call.
func (p *pulser) schedule(d time.Duration, off func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(d, off)
}

func (p *pulser) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
