package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// PahoDialer opens sessions to an actual MQTT broker.
type PahoDialer struct {
	Broker         string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	Log            *zap.SugaredLogger
}

// Dial connects a new client with the given ID.
// Automatic reconnect is disabled: the Channel owns its retry budget.
func (d *PahoDialer) Dial(ctx context.Context, clientID string) (Conn, error) {
	log := d.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(d.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(timeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt connection lost", "client_id", clientID, "error", err)
		})
	if d.KeepAlive > 0 {
		opts.SetKeepAlive(d.KeepAlive)
	}
	if d.Username != "" {
		opts.SetUsername(d.Username)
		opts.SetPassword(d.Password)
	}

	client := paho.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), timeout); err != nil {
		// Abort a connect still in flight so a late CONNACK cannot leave a
		// client running under this ID.
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to broker %s: %w", d.Broker, err)
	}

	return &pahoConn{client: client, connectTimeout: timeout}, nil
}

type pahoConn struct {
	client         paho.Client
	connectTimeout time.Duration
}

// Publish sends the payload, not retained.
func (c *pahoConn) Publish(ctx context.Context, topic string, qos byte, payload []byte, waitForAck bool) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, false, payload)
	if !waitForAck {
		select {
		case <-token.Done():
			return token.Error()
		default:
			return nil
		}
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for ack: %w", ctx.Err())
	}
}

func (c *pahoConn) Reconnect(ctx context.Context) error {
	c.client.Disconnect(250)
	if err := waitToken(ctx, c.client.Connect(), c.connectTimeout); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	return nil
}

func (c *pahoConn) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *pahoConn) Close() error {
	c.client.Disconnect(250) // 250ms quiesce
	return nil
}

var errTimeout = errors.New("timeout")

func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
