package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/face-trigger/internal/logic"
	"github.com/sweeney/face-trigger/internal/metrics"
)

// Options configures a Channel.
type Options struct {
	ClientID   string
	Topic      string
	Token      string
	QoS        byte
	WaitForAck bool
	AckTimeout time.Duration
}

// errSessionDropped is returned by restore when the persistent session was
// discarded or closed while the caller was waiting to reconnect it.
var errSessionDropped = errors.New("persistent session dropped")

// Channel publishes commands over a lazily created persistent session,
// reconnecting once on failure and falling back to a single-use session
// when no persistent session can be established.
type Channel struct {
	dialer  Dialer
	opts    Options
	log     *zap.SugaredLogger
	metrics *metrics.Collector

	// dialMu serializes every change to the persistent session: dial,
	// reconnect and close. It is held across network I/O.
	dialMu sync.Mutex

	// mu covers only the conn and gen fields and is never held across
	// network I/O, so IsConnected and the publish fast path never wait on
	// a dial.
	mu   sync.RWMutex
	conn Conn
	gen  uint64 // bumped on every successful dial or reconnect
}

// NewChannel creates a channel. No connection is made until the first publish.
func NewChannel(dialer Dialer, opts Options, log *zap.SugaredLogger, m *metrics.Collector) *Channel {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Channel{
		dialer:  dialer,
		opts:    opts,
		log:     log,
		metrics: m,
	}
}

// Send formats action with the configured token and publishes it with the
// configured QoS and acknowledgement policy.
func (c *Channel) Send(ctx context.Context, action logic.Action) bool {
	payload, err := FormatCommand(c.opts.Token, action)
	if err != nil {
		c.log.Errorw("format command", "action", action.String(), "error", err)
		return false
	}
	ok := c.Publish(ctx, payload, c.opts.QoS, c.opts.WaitForAck)
	if ok {
		c.log.Infow("command published", "action", action.String(), "topic", c.opts.Topic)
	}
	return ok
}

// Publish delivers payload to the configured topic. It never panics and
// reports failure only through its return value.
func (c *Channel) Publish(ctx context.Context, payload []byte, qos byte, waitForAck bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("publish panicked", "panic", r)
			ok = false
		}
	}()

	conn, gen := c.persistent(ctx)
	if conn == nil {
		return c.publishEphemeral(ctx, payload, qos, waitForAck)
	}

	err := c.send(ctx, conn, payload, qos, waitForAck)
	c.metrics.RecordPublish(metrics.PathPersistent, err == nil)
	if err == nil {
		return true
	}
	c.log.Warnw("publish failed, reconnecting", "topic", c.opts.Topic, "error", err)

	conn, err = c.restore(ctx, conn, gen)
	if err != nil {
		c.log.Errorw("reconnect failed", "error", err)
		c.metrics.RecordPublish(metrics.PathRetry, false)
		return false
	}

	err = c.send(ctx, conn, payload, qos, waitForAck)
	c.metrics.RecordPublish(metrics.PathRetry, err == nil)
	if err != nil {
		c.log.Errorw("retry publish failed", "topic", c.opts.Topic, "error", err)
		return false
	}
	return true
}

// IsConnected reports whether the persistent session exists and is open.
// It does not wait for an establishment or reconnect in progress.
func (c *Channel) IsConnected() bool {
	conn, _ := c.current()
	return conn != nil && conn.IsConnected()
}

// Close tears down the persistent session, if any. It waits for an
// establishment in progress so that session is not leaked.
func (c *Channel) Close() error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close persistent session: %w", err)
	}
	return nil
}

func (c *Channel) current() (Conn, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn, c.gen
}

// persistent returns the shared session and its generation, establishing
// it if needed. Only one establishment runs at a time; returns nil on
// failure.
func (c *Channel) persistent(ctx context.Context) (Conn, uint64) {
	if conn, gen := c.current(); conn != nil {
		return conn, gen
	}

	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if conn, gen := c.current(); conn != nil {
		return conn, gen
	}

	conn, err := c.dialer.Dial(ctx, c.opts.ClientID)
	if err != nil {
		c.log.Warnw("could not connect to broker, using single-use session", "error", err)
		return nil, 0
	}
	c.log.Infow("connected to broker", "client_id", c.opts.ClientID)

	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	return conn, gen
}

// restore reconnects the persistent session after a publish on conn, taken
// at generation gen, failed. If another publisher restored or replaced the
// session since then, that session is returned without a second reconnect.
// A failed reconnect discards the session.
func (c *Channel) restore(ctx context.Context, conn Conn, gen uint64) (Conn, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	cur, curGen := c.current()
	if cur == nil {
		return nil, errSessionDropped
	}
	if curGen != gen {
		c.log.Debugw("session already restored", "client_id", c.opts.ClientID)
		return cur, nil
	}

	if err := conn.Reconnect(ctx); err != nil {
		c.discard(conn)
		return nil, err
	}
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
	return conn, nil
}

func (c *Channel) publishEphemeral(ctx context.Context, payload []byte, qos byte, waitForAck bool) bool {
	clientID := c.opts.ClientID + "-" + uuid.NewString()[:8]

	conn, err := c.dialer.Dial(ctx, clientID)
	if err != nil {
		c.log.Errorw("single-use connect failed", "error", err)
		c.metrics.RecordPublish(metrics.PathEphemeral, false)
		return false
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.log.Warnw("close single-use session", "error", err)
		}
	}()

	err = c.send(ctx, conn, payload, qos, waitForAck)
	c.metrics.RecordPublish(metrics.PathEphemeral, err == nil)
	if err != nil {
		c.log.Errorw("single-use publish failed", "topic", c.opts.Topic, "error", err)
		return false
	}
	c.log.Debugw("single-use publish done", "topic", c.opts.Topic)
	return true
}

func (c *Channel) send(ctx context.Context, conn Conn, payload []byte, qos byte, waitForAck bool) error {
	if waitForAck {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.AckTimeout)
		defer cancel()
	}
	return conn.Publish(ctx, c.opts.Topic, qos, payload, waitForAck)
}

// discard drops conn as the persistent session so the next publish
// establishes a fresh one. The caller holds dialMu.
func (c *Channel) discard(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if err := conn.Close(); err != nil {
		c.log.Warnw("close failed session", "error", err)
	}
}
