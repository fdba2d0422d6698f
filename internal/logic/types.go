// Package logic contains the pure decision rules for identity-triggered dispatch.
// This package has NO external dependencies (no MQTT, camera, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity is a recognized face label, or Unknown.
type Identity string

// Unknown is the label assigned to a face that matched no gallery entry.
const Unknown Identity = "unknown"

// IsKnown reports whether the identity may enter the cooldown gate.
func (id Identity) IsKnown() bool {
	return id != "" && id != Unknown
}

// ActionKind is the command shape sent to the actuator.
type ActionKind string

const (
	KindAngle ActionKind = "angle"
	KindSpin  ActionKind = "spin"
)

// DefaultAngle is the servo position used when no rule names an identity.
const DefaultAngle = 180

// MaxAngle bounds the servo parameter accepted from configuration.
const MaxAngle = 360

// Action describes a single actuator command.
// Angle is only meaningful for KindAngle.
type Action struct {
	Kind  ActionKind
	Angle int
}

// DefaultAction rotates the servo to DefaultAngle.
var DefaultAction = Angle(DefaultAngle)

// Angle returns an action that rotates the servo to deg.
func Angle(deg int) Action {
	return Action{Kind: KindAngle, Angle: deg}
}

// Spin returns an action that runs a full spin.
func Spin() Action {
	return Action{Kind: KindSpin}
}

// String returns the action code, e.g. "servo180" or "spin360".
func (a Action) String() string {
	switch a.Kind {
	case KindAngle:
		return "servo" + strconv.Itoa(a.Angle)
	case KindSpin:
		return "spin360"
	default:
		return string(a.Kind)
	}
}

// ParseAction converts an action code into an Action.
// Accepted codes: "servo<deg>" (0..360), "spin", "spin360". Case-insensitive.
func ParseAction(code string) (Action, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	switch {
	case c == "spin" || c == "spin360":
		return Spin(), nil
	case strings.HasPrefix(c, "servo"):
		deg, err := strconv.Atoi(strings.TrimPrefix(c, "servo"))
		if err != nil {
			return Action{}, fmt.Errorf("action %q: invalid angle", code)
		}
		if deg < 0 || deg > MaxAngle {
			return Action{}, fmt.Errorf("action %q: angle must be within 0..%d", code, MaxAngle)
		}
		return Angle(deg), nil
	default:
		return Action{}, fmt.Errorf("action %q: unknown action code", code)
	}
}
