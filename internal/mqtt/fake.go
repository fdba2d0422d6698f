package mqtt

import (
	"context"
	"sync"
)

// Message is a publish recorded by FakeConn.
type Message struct {
	Topic      string
	QoS        byte
	Payload    []byte
	WaitForAck bool
}

// FakeDialer hands out FakeConns and records every dial attempt for test assertions.
// Safe for concurrent use.
type FakeDialer struct {
	mu sync.Mutex

	// DialErrs is consumed one entry per Dial call; a nil entry or an
	// exhausted script means the dial succeeds.
	DialErrs []error

	// Setup, if set, configures each FakeConn before it is returned.
	Setup func(conn *FakeConn)

	// Hold, if set, stalls every Dial after its client ID is recorded until
	// Hold is closed or ctx is done, like a broker that never answers.
	Hold chan struct{}

	clientIDs []string
	conns     []*FakeConn
}

// NewFakeDialer creates a FakeDialer for testing.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Dial returns the next scripted error or a new FakeConn.
func (d *FakeDialer) Dial(ctx context.Context, clientID string) (Conn, error) {
	d.mu.Lock()
	n := len(d.clientIDs)
	d.clientIDs = append(d.clientIDs, clientID)
	hold := d.Hold
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if n < len(d.DialErrs) && d.DialErrs[n] != nil {
		return nil, d.DialErrs[n]
	}

	conn := &FakeConn{ClientID: clientID, connected: true}
	if d.Setup != nil {
		d.Setup(conn)
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

// Dials returns the client IDs of every Dial call, including failed ones.
func (d *FakeDialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clientIDs...)
}

// Conns returns the sessions created so far.
func (d *FakeDialer) Conns() []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeConn(nil), d.conns...)
}

// Published returns every message published on any session, in creation order.
func (d *FakeDialer) Published() []Message {
	var all []Message
	for _, c := range d.Conns() {
		all = append(all, c.Published()...)
	}
	return all
}

// FakeConn records publishes for test assertions. Safe for concurrent use.
type FakeConn struct {
	ClientID string

	mu sync.Mutex

	// PublishErrs is consumed one entry per Publish call; a nil entry or an
	// exhausted script means the publish succeeds.
	PublishErrs []error

	// ReconnectErr, if set, will be returned by Reconnect.
	ReconnectErr error

	// PublishHook, if set, runs inside Publish before the result is decided.
	PublishHook func(ctx context.Context)

	calls      int
	published  []Message
	reconnects int
	closed     bool
	connected  bool
}

// Publish records the message or returns the scripted error.
func (c *FakeConn) Publish(ctx context.Context, topic string, qos byte, payload []byte, waitForAck bool) error {
	c.mu.Lock()
	hook := c.PublishHook
	n := c.calls
	c.calls++
	var err error
	if n < len(c.PublishErrs) {
		err = c.PublishErrs[n]
	}
	c.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.published = append(c.published, Message{
		Topic:      topic,
		QoS:        qos,
		Payload:    append([]byte(nil), payload...),
		WaitForAck: waitForAck,
	})
	c.mu.Unlock()
	return nil
}

// Reconnect counts the attempt and returns ReconnectErr.
func (c *FakeConn) Reconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	if c.ReconnectErr != nil {
		c.connected = false
		return c.ReconnectErr
	}
	c.connected = true
	return nil
}

// IsConnected reports whether the fake session is "connected".
func (c *FakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Close marks the session as closed.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// PublishCalls returns the number of Publish calls, including failed ones.
func (c *FakeConn) PublishCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Published returns the successfully published messages.
func (c *FakeConn) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// Reconnects returns the number of Reconnect calls.
func (c *FakeConn) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
