// Package metrics exposes Prometheus counters for the dispatch pipeline.
//
// All methods are safe on a nil *Collector so components can run without
// metrics in tests and one-shot commands.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "face_trigger"

// Publish paths reported by the delivery channel.
const (
	PathPersistent = "persistent"
	PathRetry      = "retry"
	PathEphemeral  = "ephemeral"
)

// Collector groups the pipeline metrics.
type Collector struct {
	framesProcessed prometheus.Counter
	frameErrors     prometheus.Counter
	escalations     prometheus.Counter
	detections      *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	suppressed      prometheus.Counter
	publishes       *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	taskLatency     *prometheus.HistogramVec
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames acquired and passed to the identity resolver",
		}),
		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Failed frame acquisitions",
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_escalations_total",
			Help:      "Times consecutive capture failures crossed the escalation threshold",
		}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detected faces by resolution result",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatches issued after the cooldown gate, by action",
		}, []string{"action"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldown_suppressed_total",
			Help:      "Known identities suppressed by the cooldown gate",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Broker publish attempts by connection path and result",
		}, []string{"path", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by result",
		}, []string{"result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dropped_total",
			Help:      "Tasks rejected by the worker pool, by task kind",
		}, []string{"kind"}),
		taskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Worker task duration by kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.framesProcessed,
			c.frameErrors,
			c.escalations,
			c.detections,
			c.dispatches,
			c.suppressed,
			c.publishes,
			c.notifications,
			c.dropped,
			c.taskLatency,
		)
	}

	return c
}

func (c *Collector) RecordFrame() {
	if c == nil {
		return
	}
	c.framesProcessed.Inc()
}

func (c *Collector) RecordFrameError() {
	if c == nil {
		return
	}
	c.frameErrors.Inc()
}

func (c *Collector) RecordEscalation() {
	if c == nil {
		return
	}
	c.escalations.Inc()
}

// RecordDetection counts a detected face as known or unknown.
func (c *Collector) RecordDetection(known bool) {
	if c == nil {
		return
	}
	c.detections.WithLabelValues(knownLabel(known)).Inc()
}

func (c *Collector) RecordDispatch(action string) {
	if c == nil {
		return
	}
	c.dispatches.WithLabelValues(action).Inc()
}

func (c *Collector) RecordSuppressed() {
	if c == nil {
		return
	}
	c.suppressed.Inc()
}

// RecordPublish counts one publish attempt on the given path.
func (c *Collector) RecordPublish(path string, ok bool) {
	if c == nil {
		return
	}
	c.publishes.WithLabelValues(path, resultLabel(ok)).Inc()
}

func (c *Collector) RecordNotification(ok bool) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(resultLabel(ok)).Inc()
}

func (c *Collector) RecordDropped(kind string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveTask(kind string, seconds float64) {
	if c == nil {
		return
	}
	c.taskLatency.WithLabelValues(kind).Observe(seconds)
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func knownLabel(known bool) string {
	if known {
		return "known"
	}
	return "unknown"
}
