// Package status provides a thread-safe status tracker for the face-trigger daemon.
// It is read by the HTTP handlers and written by the control loop and its workers.
package status

import (
	"sync"
	"time"
)

// DefaultHistory is the number of recent dispatches kept for display.
const DefaultHistory = 20

// Rule is one identity-to-action mapping, for display.
type Rule struct {
	Identity string
	Action   string
}

// Config contains daemon configuration for display.
type Config struct {
	Broker        string
	Topic         string
	CooldownMs    int64
	DefaultAction string
	Rules         []Rule
	HTTPAddr      string
	Workers       int
}

// Counts are monotonically increasing totals since start.
type Counts struct {
	Frames           int
	FrameErrors      int
	Faces            int
	Unknown          int
	Dispatches       int
	Suppressed       int
	Delivered        int
	DeliveryFailures int
	Notified         int
	NotifyFailures   int
	Dropped          int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Counts          Counts
	StartTime       time.Time
	Now             time.Time
	LastFrame       time.Time
	MQTTConnected   bool
	CaptureDegraded bool
	Recent          []Dispatch // newest first
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	history *history
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		history: newHistory(DefaultHistory),
	}
}

// RecordFrame counts a successfully read frame and clears the degraded flag.
func (t *Tracker) RecordFrame(at time.Time) {
	t.mu.Lock()
	t.snap.Counts.Frames++
	t.snap.LastFrame = at
	t.snap.CaptureDegraded = false
	t.mu.Unlock()
}

// RecordFrameError counts a failed frame read.
func (t *Tracker) RecordFrameError() {
	t.mu.Lock()
	t.snap.Counts.FrameErrors++
	t.mu.Unlock()
}

// SetCaptureDegraded sets the escalation flag.
func (t *Tracker) SetCaptureDegraded(degraded bool) {
	t.mu.Lock()
	t.snap.CaptureDegraded = degraded
	t.mu.Unlock()
}

// RecordFace counts a detected face.
func (t *Tracker) RecordFace(known bool) {
	t.mu.Lock()
	t.snap.Counts.Faces++
	if !known {
		t.snap.Counts.Unknown++
	}
	t.mu.Unlock()
}

// RecordDispatch counts a trigger and adds it to the recent history.
func (t *Tracker) RecordDispatch(d Dispatch) {
	t.mu.Lock()
	t.snap.Counts.Dispatches++
	t.history.push(d)
	t.mu.Unlock()
}

// RecordSuppressed counts a recognition held back by the cooldown.
func (t *Tracker) RecordSuppressed() {
	t.mu.Lock()
	t.snap.Counts.Suppressed++
	t.mu.Unlock()
}

// RecordDelivery counts the outcome of a command publish.
func (t *Tracker) RecordDelivery(ok bool) {
	t.mu.Lock()
	if ok {
		t.snap.Counts.Delivered++
	} else {
		t.snap.Counts.DeliveryFailures++
	}
	t.mu.Unlock()
}

// RecordNotification counts the outcome of a notification.
func (t *Tracker) RecordNotification(ok bool) {
	t.mu.Lock()
	if ok {
		t.snap.Counts.Notified++
	} else {
		t.snap.Counts.NotifyFailures++
	}
	t.mu.Unlock()
}

// RecordDropped counts a task rejected by a full worker pool.
func (t *Tracker) RecordDropped() {
	t.mu.Lock()
	t.snap.Counts.Dropped++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Recent = t.history.newestFirst()
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
