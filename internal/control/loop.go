// Package control runs the per-frame loop: acquire a frame, identify faces,
// gate each known identity through its cooldown, and hand the resulting
// command publish and notification to the worker pool.
//
// The loop never waits on delivery. Side effects report back only through
// the pool's result channel, which feeds logs, metrics and status.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/sweeney/face-trigger/internal/capture"
	"github.com/sweeney/face-trigger/internal/dispatch"
	"github.com/sweeney/face-trigger/internal/gpio"
	"github.com/sweeney/face-trigger/internal/logic"
	"github.com/sweeney/face-trigger/internal/metrics"
	"github.com/sweeney/face-trigger/internal/mqtt"
	"github.com/sweeney/face-trigger/internal/notify"
	"github.com/sweeney/face-trigger/internal/status"
	"github.com/sweeney/face-trigger/internal/vision"
)

// ErrDeliveryFailed is the publish task's error when the channel gave up.
var ErrDeliveryFailed = errors.New("command delivery failed")

// Publisher sends one command. It reports failure only through its result.
type Publisher interface {
	Send(ctx context.Context, action logic.Action) bool
}

// Resolver identifies the faces in a JPEG frame.
type Resolver interface {
	Resolve(img []byte) ([]vision.Match, error)
}

// Config tunes the loop.
type Config struct {
	// EscalateAfter is the number of consecutive frame failures that
	// raises the capture-degraded alarm.
	EscalateAfter  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	IndicatorPulse time.Duration
}

// Defaults for Config fields left zero.
const (
	DefaultEscalateAfter  = 50
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// Deps are the loop's collaborators. Source, Resolver, Gate, Actions,
// Publisher and Pool are required.
type Deps struct {
	Source     capture.Source
	Resolver   Resolver
	Gate       *logic.Gate
	Actions    *logic.ActionTable
	Publisher  Publisher
	MQTTStatus mqtt.ConnectionStatus
	Notifier   notify.Notifier
	Pool       *dispatch.Pool
	Tracker    *status.Tracker
	Indicator  gpio.Indicator
	Metrics    *metrics.Collector
	Log        *zap.SugaredLogger

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Loop is the control loop. Run it from a single goroutine.
type Loop struct {
	deps Deps
	cfg  Config

	failures  int
	escalated bool
}

// New fills in optional dependencies and defaults.
func New(deps Deps, cfg Config) *Loop {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Indicator == nil {
		deps.Indicator = gpio.Nop{}
	}
	if deps.Tracker == nil {
		deps.Tracker = status.NewTracker(deps.Now(), status.Config{})
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = DefaultEscalateAfter
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.IndicatorPulse <= 0 {
		cfg.IndicatorPulse = gpio.DefaultPulse
	}
	return &Loop{deps: deps, cfg: cfg}
}

// Run processes frames until ctx is cancelled. Frame failures are retried
// with exponential backoff forever; they never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.InitialBackoff
	bo.MaxInterval = l.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	l.deps.Log.Infow("control loop started",
		"cooldown", l.deps.Gate.Window(),
		"escalate_after", l.cfg.EscalateAfter)

	for {
		if ctx.Err() != nil {
			l.deps.Log.Infow("control loop stopped")
			return nil
		}

		frame, err := l.deps.Source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.deps.Log.Infow("control loop stopped")
				return nil
			}
			l.frameFailed(err)
			if err := l.deps.Sleep(ctx, bo.NextBackOff()); err != nil {
				l.deps.Log.Infow("control loop stopped")
				return nil
			}
			continue
		}

		bo.Reset()
		l.frameOK(frame)
		l.Process(ctx, frame)
	}
}

// Process handles one frame: every known identity that passes its cooldown
// gets a publish task and a notify task on the pool. It never blocks on
// either.
func (l *Loop) Process(ctx context.Context, frame capture.Frame) {
	matches, err := l.deps.Resolver.Resolve(frame.JPEG)
	if err != nil {
		l.deps.Log.Warnw("resolve frame", "seq", frame.Seq, "error", err)
		return
	}

	now := l.deps.Now()
	for _, m := range matches {
		known := m.Identity.IsKnown()
		l.deps.Metrics.RecordDetection(known)
		l.deps.Tracker.RecordFace(known)
		if !known {
			continue
		}

		ok, remaining := l.deps.Gate.TryTrigger(m.Identity, now)
		if !ok {
			l.deps.Log.Debugw("cooldown active",
				"identity", string(m.Identity),
				"remaining", remaining.Round(time.Second))
			l.deps.Metrics.RecordSuppressed()
			l.deps.Tracker.RecordSuppressed()
			continue
		}

		action := l.deps.Actions.Resolve(m.Identity)
		l.deps.Log.Infow("authorized face detected",
			"identity", string(m.Identity),
			"action", action.String(),
			"votes", m.Votes)
		l.deps.Metrics.RecordDispatch(action.String())
		l.deps.Tracker.RecordDispatch(status.Dispatch{
			Identity: string(m.Identity),
			Action:   action.String(),
			At:       now,
		})

		l.submit(dispatch.Task{
			Kind:     dispatch.KindPublish,
			Identity: m.Identity,
			Run:      l.publishTask(action),
		})
		l.submit(dispatch.Task{
			Kind:     dispatch.KindNotify,
			Identity: m.Identity,
			Run:      l.notifyTask(m.Identity, frame.JPEG),
		})
	}
}

// Report consumes pool results until the channel closes. Results only feed
// logs, metrics and status.
func (l *Loop) Report(results <-chan dispatch.Result) {
	for r := range results {
		l.deps.Metrics.ObserveTask(r.Task.Kind, r.Duration.Seconds())
		ok := r.Err == nil

		switch r.Task.Kind {
		case dispatch.KindPublish:
			l.deps.Tracker.RecordDelivery(ok)
			if !ok {
				l.deps.Log.Warnw("command not delivered", "identity", string(r.Task.Identity), "error", r.Err)
			}
			// Connection state only changes on the publish path, so it is
			// sampled here rather than per frame.
			if l.deps.MQTTStatus != nil {
				l.deps.Tracker.SetMQTTConnected(l.deps.MQTTStatus.IsConnected())
			}
		case dispatch.KindNotify:
			l.deps.Metrics.RecordNotification(ok)
			l.deps.Tracker.RecordNotification(ok)
			if !ok {
				l.deps.Log.Warnw("notification failed", "identity", string(r.Task.Identity), "error", r.Err)
			}
		}
	}
}

func (l *Loop) publishTask(action logic.Action) func(context.Context) error {
	return func(ctx context.Context) error {
		if !l.deps.Publisher.Send(ctx, action) {
			return ErrDeliveryFailed
		}
		if err := l.deps.Indicator.Pulse(l.cfg.IndicatorPulse); err != nil {
			l.deps.Log.Debugw("indicator pulse", "error", err)
		}
		return nil
	}
}

func (l *Loop) notifyTask(id logic.Identity, snapshot []byte) func(context.Context) error {
	return func(ctx context.Context) error {
		return l.deps.Notifier.Notify(ctx, id, snapshot)
	}
}

// submit never blocks; a full pool drops the task.
func (l *Loop) submit(task dispatch.Task) {
	if err := l.deps.Pool.Submit(task); err != nil {
		l.deps.Log.Warnw("dropping task",
			"kind", task.Kind,
			"identity", string(task.Identity),
			"error", err)
		l.deps.Metrics.RecordDropped(task.Kind)
		l.deps.Tracker.RecordDropped()
	}
}

func (l *Loop) frameOK(frame capture.Frame) {
	if l.escalated {
		l.deps.Log.Infow("frame capture recovered", "after_failures", l.failures)
	}
	l.failures = 0
	l.escalated = false
	l.deps.Metrics.RecordFrame()
	l.deps.Tracker.RecordFrame(frame.Captured)
}

func (l *Loop) frameFailed(err error) {
	l.failures++
	l.deps.Metrics.RecordFrameError()
	l.deps.Tracker.RecordFrameError()
	l.deps.Log.Debugw("frame read failed", "consecutive", l.failures, "error", err)

	if l.failures >= l.cfg.EscalateAfter && !l.escalated {
		l.escalated = true
		l.deps.Log.Errorw("frame capture degraded",
			"consecutive_failures", l.failures,
			"error", err)
		l.deps.Metrics.RecordEscalation()
		l.deps.Tracker.SetCaptureDegraded(true)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
