// Package mqtt delivers actuator commands to an MQTT broker with abstraction for testing.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sweeney/face-trigger/internal/logic"
)

// DefaultTopic is the topic the actuator subscribes to.
const DefaultTopic = "face_control/esp32/rotate"

// DefaultQoS is at-least-once.
const DefaultQoS byte = 1

// ErrNotConnected is returned when publishing on a closed session.
var ErrNotConnected = errors.New("mqtt: not connected")

// Conn is a live session to the broker.
type Conn interface {
	// Publish sends payload on topic. If waitForAck is set it blocks until the
	// broker acknowledges or ctx is done.
	Publish(ctx context.Context, topic string, qos byte, payload []byte, waitForAck bool) error

	// Reconnect drops and re-establishes the session.
	Reconnect(ctx context.Context) error

	// IsConnected reports whether the session is currently open.
	IsConnected() bool

	// Close disconnects from the broker.
	Close() error
}

// Dialer opens broker sessions.
type Dialer interface {
	Dial(ctx context.Context, clientID string) (Conn, error)
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Payload is the command message body. Exactly one of Angle or Spin is set.
type Payload struct {
	Token string `json:"token"`
	Angle *int   `json:"angle,omitempty"`
	Spin  bool   `json:"spin,omitempty"`
}

// FormatCommand creates the JSON payload for an actuator command.
func FormatCommand(token string, action logic.Action) ([]byte, error) {
	if token == "" {
		return nil, errors.New("mqtt: empty auth token")
	}

	payload := Payload{Token: token}
	switch action.Kind {
	case logic.KindAngle:
		angle := action.Angle
		payload.Angle = &angle
	case logic.KindSpin:
		payload.Spin = true
	default:
		return nil, fmt.Errorf("mqtt: unsupported action kind %q", action.Kind)
	}
	return json.Marshal(payload)
}
