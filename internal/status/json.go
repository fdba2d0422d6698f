package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Capture       CaptureStatus  `json:"capture"`
	Counts        CountsJSON     `json:"counts"`
	Recent        []DispatchJSON `json:"recent"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Topic     string `json:"topic"`
}

// CaptureStatus reports frame source health.
type CaptureStatus struct {
	Degraded  bool   `json:"degraded"`
	LastFrame string `json:"last_frame,omitempty"`
}

// CountsJSON is the JSON representation of counters.
type CountsJSON struct {
	Frames           int `json:"frames"`
	FrameErrors      int `json:"frame_errors"`
	Faces            int `json:"faces"`
	Unknown          int `json:"unknown"`
	Dispatches       int `json:"dispatches"`
	Suppressed       int `json:"suppressed"`
	Delivered        int `json:"delivered"`
	DeliveryFailures int `json:"delivery_failures"`
	Notified         int `json:"notified"`
	NotifyFailures   int `json:"notify_failures"`
	Dropped          int `json:"dropped"`
}

// DispatchJSON is one entry of the recent dispatch list.
type DispatchJSON struct {
	Identity string `json:"identity"`
	Action   string `json:"action"`
	At       string `json:"at"`
}

// RuleJSON is one configured identity-to-action mapping.
type RuleJSON struct {
	Identity string `json:"identity"`
	Action   string `json:"action"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	CooldownMs    int64      `json:"cooldown_ms"`
	DefaultAction string     `json:"default_action"`
	Rules         []RuleJSON `json:"rules"`
	HTTPAddr      string     `json:"http_addr"`
	Workers       int        `json:"workers"`
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Counts
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Topic:     snap.Config.Topic,
		},
		Capture: CaptureStatus{Degraded: snap.CaptureDegraded},
		Counts: CountsJSON{
			Frames:           c.Frames,
			FrameErrors:      c.FrameErrors,
			Faces:            c.Faces,
			Unknown:          c.Unknown,
			Dispatches:       c.Dispatches,
			Suppressed:       c.Suppressed,
			Delivered:        c.Delivered,
			DeliveryFailures: c.DeliveryFailures,
			Notified:         c.Notified,
			NotifyFailures:   c.NotifyFailures,
			Dropped:          c.Dropped,
		},
		Recent: []DispatchJSON{},
		Config: ConfigJSON{
			CooldownMs:    snap.Config.CooldownMs,
			DefaultAction: snap.Config.DefaultAction,
			Rules:         []RuleJSON{},
			HTTPAddr:      snap.Config.HTTPAddr,
			Workers:       snap.Config.Workers,
		},
	}
	if !snap.LastFrame.IsZero() {
		inner.Capture.LastFrame = snap.LastFrame.UTC().Format(time.RFC3339)
	}
	for _, d := range snap.Recent {
		inner.Recent = append(inner.Recent, DispatchJSON{
			Identity: d.Identity,
			Action:   d.Action,
			At:       d.At.UTC().Format(time.RFC3339),
		})
	}
	for _, r := range snap.Config.Rules {
		inner.Config.Rules = append(inner.Config.Rules, RuleJSON{Identity: r.Identity, Action: r.Action})
	}
	return inner
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
