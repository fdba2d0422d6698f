package control

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// stubResolver maps a frame's bytes to the identities "seen" in it.
type stubResolver struct {
	mu     sync.Mutex
	frames map[string][]logic.Identity
	err    error
}

func (s *stubResolver) Resolve(img []byte) ([]vision.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []vision.Match
	for i, id := range s.frames[string(img)] {
		out = append(out, vision.Match{
			Region:   image.Rect(i*10, 0, i*10+10, 10),
			Identity: id,
			Votes:    1,
		})
	}
	return out, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(offset time.Duration) {
	c.mu.Lock()
	c.now = time.Unix(1700000000, 0).Add(offset)
	c.mu.Unlock()
}

type harness struct {
	loop      *Loop
	clock     *clock
	dialer    *mqtt.FakeDialer
	channel   *mqtt.Channel
	notifier  *notify.Fake
	indicator *gpio.FakeIndicator
	tracker   *status.Tracker
	pool      *dispatch.Pool
	reg       *prometheus.Registry
	resolver  *stubResolver

	reported chan struct{}
}

func newHarness(t *testing.T, source capture.Source, cfg Config) *harness {
	t.Helper()

	h := &harness{
		clock:     &clock{},
		dialer:    mqtt.NewFakeDialer(),
		notifier:  &notify.Fake{},
		indicator: gpio.NewFakeIndicator(),
		reg:       prometheus.NewRegistry(),
		resolver:  &stubResolver{frames: map[string][]logic.Identity{}},
		reported:  make(chan struct{}),
	}
	h.clock.Set(0)
	m := metrics.NewCollector(h.reg)

	h.channel = mqtt.NewChannel(h.dialer, mqtt.Options{
		ClientID:   "face-trigger",
		Token:      "secret",
		QoS:        1,
		WaitForAck: true,
		AckTimeout: time.Second,
	}, nil, m)
	h.tracker = status.NewTracker(h.clock.Now(), status.Config{})

	// One worker keeps publish order deterministic.
	h.pool = dispatch.NewPool(1, 16, nil)
	require.NoError(t, h.pool.Start(context.Background()))

	actions := logic.NewActionTable(map[logic.Identity]logic.Action{
		"alice": logic.Angle(180),
		"carol": logic.Spin(),
	}, logic.Angle(90))

	h.loop = New(Deps{
		Source:     source,
		Resolver:   h.resolver,
		Gate:       logic.NewGate(30 * time.Second),
		Actions:    actions,
		Publisher:  h.channel,
		MQTTStatus: h.channel,
		Notifier:   h.notifier,
		Pool:       h.pool,
		Tracker:    h.tracker,
		Indicator:  h.indicator,
		Metrics:    m,
		Now:        h.clock.Now,
		Sleep:      func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}, cfg)

	go func() {
		h.loop.Report(h.pool.Results())
		close(h.reported)
	}()
	return h
}

func (h *harness) see(frame string, ids ...logic.Identity) {
	h.resolver.mu.Lock()
	h.resolver.frames[frame] = ids
	h.resolver.mu.Unlock()
}

func (h *harness) process(t *testing.T, at time.Duration, frame string) {
	t.Helper()
	h.clock.Set(at)
	h.loop.Process(context.Background(), capture.Frame{Seq: 1, Captured: h.clock.Now(), JPEG: []byte(frame)})
}

// finish drains the pool and waits for every result to be reported.
func (h *harness) finish(t *testing.T) {
	t.Helper()
	require.True(t, h.pool.Stop(5*time.Second))
	select {
	case <-h.reported:
	case <-time.After(5 * time.Second):
		t.Fatal("results not drained")
	}
}

func payloads(msgs []mqtt.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, string(m.Payload))
	}
	return out
}

func TestCooldownAcrossSightings(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.see("f", "alice")

	h.process(t, 0, "f")
	h.process(t, 10*time.Second, "f")
	h.process(t, 31*time.Second, "f")
	h.finish(t)

	got := payloads(h.dialer.Published())
	require.Len(t, got, 2)
	for _, p := range got {
		assert.JSONEq(t, `{"token":"secret","angle":180}`, p)
	}

	snap := h.tracker.Snapshot()
	assert.Equal(t, 2, snap.Counts.Dispatches)
	assert.Equal(t, 1, snap.Counts.Suppressed)
	assert.Equal(t, 2, snap.Counts.Delivered)
	assert.Len(t, h.notifier.Calls(), 2)
	assert.Len(t, h.indicator.Pulses(), 2)
}

func TestUnmappedIdentityGetsDefaultAction(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.see("f", "bob")

	h.process(t, 0, "f")
	h.finish(t)

	got := payloads(h.dialer.Published())
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"token":"secret","angle":90}`, got[0])
}

func TestSpinAction(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.see("f", "carol")

	h.process(t, 0, "f")
	h.finish(t)

	got := payloads(h.dialer.Published())
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"token":"secret","spin":true}`, got[0])
}

func TestUnknownFacesNeverDispatch(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.see("f", logic.Unknown, logic.Unknown)

	h.process(t, 0, "f")
	h.process(t, time.Minute, "f")
	h.finish(t)

	assert.Empty(t, h.dialer.Dials())
	assert.Empty(t, h.notifier.Calls())

	snap := h.tracker.Snapshot()
	assert.Equal(t, 4, snap.Counts.Faces)
	assert.Equal(t, 4, snap.Counts.Unknown)
	assert.Zero(t, snap.Counts.Dispatches)
}

func TestSeveralIdentitiesInOneFrame(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.see("f", "alice", logic.Unknown, "bob")

	h.process(t, 0, "f")
	h.finish(t)

	got := payloads(h.dialer.Published())
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"token":"secret","angle":180}`, got[0])
	assert.JSONEq(t, `{"token":"secret","angle":90}`, got[1])

	recent := h.tracker.Snapshot().Recent
	require.Len(t, recent, 2)
	assert.Equal(t, "bob", recent[0].Identity)
	assert.Equal(t, "alice", recent[1].Identity)
}

func TestFallsBackToSingleUseSessions(t *testing.T) {
	h := newHarness(t, nil, Config{})
	refused := errors.New("connection refused")
	// Per publish: persistent dial fails, single-use dial succeeds.
	h.dialer.DialErrs = []error{refused, nil, refused, nil}
	h.see("a", "alice")
	h.see("b", "bob")

	h.process(t, 0, "a")
	h.process(t, 0, "b")
	h.finish(t)

	assert.Len(t, h.dialer.Published(), 2)
	for _, c := range h.dialer.Conns() {
		assert.True(t, c.Closed(), "single-use session %s torn down", c.ClientID)
	}
	assert.Equal(t, 2, h.tracker.Snapshot().Counts.Delivered)
	assert.Equal(t, 1, testutil.CollectAndCount(h.reg, "face_trigger_publishes_total"), "only the single-use path was used")
}

func TestNotificationFailureDoesNotAffectDelivery(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.notifier.Err = errors.New("smtp: auth failed")
	h.see("f", "alice")

	h.process(t, 0, "f")
	h.finish(t)

	assert.Len(t, h.dialer.Published(), 1)
	counts := h.tracker.Snapshot().Counts
	assert.Equal(t, 1, counts.Delivered)
	assert.Zero(t, counts.DeliveryFailures)
	assert.Equal(t, 1, counts.NotifyFailures)
}

func TestDeliveryFailureIsReportedNotRetried(t *testing.T) {
	h := newHarness(t, nil, Config{})
	refused := errors.New("connection refused")
	h.dialer.DialErrs = []error{refused, refused}
	h.see("f", "alice")

	h.process(t, 0, "f")
	h.process(t, 5*time.Second, "f")
	h.finish(t)

	counts := h.tracker.Snapshot().Counts
	assert.Equal(t, 1, counts.Dispatches, "cooldown holds even when delivery failed")
	assert.Equal(t, 1, counts.DeliveryFailures)
	assert.Empty(t, h.indicator.Pulses())
}

func TestFullPoolDropsTasks(t *testing.T) {
	h := newHarness(t, nil, Config{})

	// Occupy the single worker and fill the queue.
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, h.pool.Submit(dispatch.Task{Kind: dispatch.KindPublish, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	for i := 0; i < 16; i++ {
		require.NoError(t, h.pool.Submit(dispatch.Task{Kind: dispatch.KindNotify, Run: func(context.Context) error { return nil }}))
	}

	h.see("f", "alice")
	h.process(t, 0, "f")
	close(release)
	h.finish(t)

	counts := h.tracker.Snapshot().Counts
	assert.Equal(t, 2, counts.Dropped)
	assert.Equal(t, 1, counts.Dispatches)
	assert.Empty(t, h.dialer.Published())

	last, ok := h.loop.deps.Gate.LastTrigger("alice")
	assert.True(t, ok, "trigger is recorded even though the tasks were dropped")
	assert.Equal(t, h.clock.Now(), last)
}

func TestResolveErrorSkipsFrame(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.resolver.err = errors.New("corrupt jpeg")

	h.process(t, 0, "f")
	h.finish(t)

	assert.Zero(t, h.tracker.Snapshot().Counts.Faces)
}

func TestRunProcessesFramesUntilCancelled(t *testing.T) {
	src := capture.NewFakeSource(
		capture.FakeStep{JPEG: []byte("a")},
		capture.FakeStep{JPEG: []byte("b")},
	)
	h := newHarness(t, src, Config{})
	h.see("a", "alice")
	h.see("b", "bob")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	<-src.Done()
	cancel()
	require.NoError(t, <-done)
	h.finish(t)

	assert.Equal(t, 2, h.tracker.Snapshot().Counts.Frames)
	assert.Len(t, h.dialer.Published(), 2)
}

func TestRunKeepsReadingFramesWhileBrokerDialStalls(t *testing.T) {
	steps := make([]capture.FakeStep, 20)
	for i := range steps {
		steps[i] = capture.FakeStep{JPEG: []byte("empty")}
	}
	src := capture.NewFakeSource(steps...)
	h := newHarness(t, src, Config{})
	h.dialer.Hold = make(chan struct{})
	h.see("f", "alice")

	h.process(t, 0, "f")
	require.Eventually(t, func() bool { return len(h.dialer.Dials()) == 1 }, time.Second, time.Millisecond,
		"publish task should be dialing")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	select {
	case <-src.Done():
	case <-time.After(time.Second):
		t.Fatal("control loop stalled behind the broker dial")
	}
	assert.Equal(t, 20, h.tracker.Snapshot().Counts.Frames)
	assert.Empty(t, h.dialer.Published(), "dial is still held")

	close(h.dialer.Hold)
	cancel()
	require.NoError(t, <-done)
	h.finish(t)

	assert.Len(t, h.dialer.Published(), 1)
	assert.True(t, h.tracker.Snapshot().MQTTConnected, "refreshed once the publish result is reported")
}

func TestRunEscalatesOnceAndRearms(t *testing.T) {
	bad := capture.FakeStep{Err: errors.New("camera read failed")}
	src := capture.NewFakeSource(
		bad, bad, bad, bad,
		capture.FakeStep{JPEG: []byte("ok")},
		bad, bad, bad,
	)
	h := newHarness(t, src, Config{EscalateAfter: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	<-src.Done()
	cancel()
	require.NoError(t, <-done)
	h.finish(t)

	assert.Equal(t, 2.0, counterValue(t, h.reg, "face_trigger_capture_escalations_total"))

	snap := h.tracker.Snapshot()
	assert.Equal(t, 7, snap.Counts.FrameErrors)
	assert.Equal(t, 1, snap.Counts.Frames)
	assert.True(t, snap.CaptureDegraded)
}

func TestRunRecoveryClearsDegraded(t *testing.T) {
	bad := capture.FakeStep{Err: errors.New("camera read failed")}
	src := capture.NewFakeSource(bad, bad, capture.FakeStep{JPEG: []byte("ok")})
	h := newHarness(t, src, Config{EscalateAfter: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	<-src.Done()
	cancel()
	require.NoError(t, <-done)
	h.finish(t)

	assert.False(t, h.tracker.Snapshot().CaptureDegraded)
	assert.Zero(t, h.loop.failures)
}

func TestRunStopsDuringBackoff(t *testing.T) {
	src := capture.NewFakeSource(capture.FakeStep{Err: errors.New("no frame")})
	h := newHarness(t, src, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	h.loop.deps.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	require.NoError(t, h.loop.Run(ctx))
	h.finish(t)
	assert.Equal(t, 1, src.Reads())
}

func TestNewFillsDefaults(t *testing.T) {
	l := New(Deps{}, Config{})
	assert.Equal(t, DefaultEscalateAfter, l.cfg.EscalateAfter)
	assert.Equal(t, DefaultInitialBackoff, l.cfg.InitialBackoff)
	assert.Equal(t, DefaultMaxBackoff, l.cfg.MaxBackoff)
	assert.Equal(t, gpio.DefaultPulse, l.cfg.IndicatorPulse)
	assert.NotNil(t, l.deps.Tracker)
	assert.NotNil(t, l.deps.Notifier)
	assert.NotNil(t, l.deps.Indicator)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}

func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.Len(t, f.GetMetric(), 1)
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
