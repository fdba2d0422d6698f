package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Broker: "tcp://localhost:1883", CooldownMs: 30000, HTTPAddr: ":8080", Workers: 4}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.CooldownMs != 30000 {
		t.Errorf("Config.CooldownMs: got %d, want 30000", snap.Config.CooldownMs)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.CaptureDegraded {
		t.Error("expected CaptureDegraded=false initially")
	}
	if snap.Recent != nil {
		t.Errorf("expected no recent dispatches, got %d", len(snap.Recent))
	}
}

func TestCounters(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.RecordFrame(time.Now())
	tr.RecordFrame(time.Now())
	tr.RecordFrameError()
	tr.RecordFace(true)
	tr.RecordFace(false)
	tr.RecordSuppressed()
	tr.RecordDelivery(true)
	tr.RecordDelivery(false)
	tr.RecordNotification(true)
	tr.RecordNotification(false)
	tr.RecordNotification(false)
	tr.RecordDropped()

	c := tr.Snapshot().Counts
	want := Counts{
		Frames:           2,
		FrameErrors:      1,
		Faces:            2,
		Unknown:          1,
		Suppressed:       1,
		Delivered:        1,
		DeliveryFailures: 1,
		Notified:         1,
		NotifyFailures:   2,
		Dropped:          1,
	}
	if c != want {
		t.Errorf("Counts: got %+v, want %+v", c, want)
	}
}

func TestRecordDispatch(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tr.RecordDispatch(Dispatch{Identity: "alice", Action: "servo90", At: at})
	tr.RecordDispatch(Dispatch{Identity: "bob", Action: "spin360", At: at.Add(time.Second)})

	snap := tr.Snapshot()
	if snap.Counts.Dispatches != 2 {
		t.Errorf("Dispatches: got %d, want 2", snap.Counts.Dispatches)
	}
	if len(snap.Recent) != 2 {
		t.Fatalf("Recent: got %d, want 2", len(snap.Recent))
	}
	if snap.Recent[0].Identity != "bob" {
		t.Errorf("Recent[0]: got %q, want bob (newest first)", snap.Recent[0].Identity)
	}
}

func TestRecentIsBounded(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	for i := 0; i < DefaultHistory+5; i++ {
		tr.RecordDispatch(Dispatch{Identity: "x", Action: "servo180", At: time.Now()})
	}

	snap := tr.Snapshot()
	if len(snap.Recent) != DefaultHistory {
		t.Errorf("Recent: got %d, want %d", len(snap.Recent), DefaultHistory)
	}
	if snap.Counts.Dispatches != DefaultHistory+5 {
		t.Errorf("Dispatches: got %d, want %d", snap.Counts.Dispatches, DefaultHistory+5)
	}
}

func TestCaptureDegradedClearedByFrame(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetCaptureDegraded(true)
	if !tr.Snapshot().CaptureDegraded {
		t.Fatal("expected CaptureDegraded=true")
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.RecordFrame(at)
	snap := tr.Snapshot()
	if snap.CaptureDegraded {
		t.Error("expected a good frame to clear CaptureDegraded")
	}
	if !snap.LastFrame.Equal(at) {
		t.Errorf("LastFrame: got %v, want %v", snap.LastFrame, at)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.RecordDispatch(Dispatch{Identity: "alice", Action: "servo180", At: time.Now()})

	snap := tr.Snapshot()
	snap.Recent[0].Identity = "mallory"
	snap.Counts.Dispatches = 99

	again := tr.Snapshot()
	if again.Recent[0].Identity != "alice" {
		t.Error("mutating a snapshot changed the tracker history")
	}
	if again.Counts.Dispatches != 1 {
		t.Error("mutating a snapshot changed the tracker counts")
	}
}

func TestUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start, Now: start.Add(90 * time.Second)}
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", snap.Uptime())
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordFrame(time.Now())
				tr.RecordDispatch(Dispatch{Identity: "a", Action: "servo180", At: time.Now()})
				tr.SetMQTTConnected(j%2 == 0)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	if snap.Counts.Frames != 800 {
		t.Errorf("Frames: got %d, want 800", snap.Counts.Frames)
	}
	if snap.Counts.Dispatches != 800 {
		t.Errorf("Dispatches: got %d, want 800", snap.Counts.Dispatches)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime:     start,
		Now:           start.Add(3661 * time.Second),
		LastFrame:     start.Add(3660 * time.Second),
		MQTTConnected: true,
		Counts:        Counts{Frames: 10, Dispatches: 2, Suppressed: 1},
		Recent: []Dispatch{
			{Identity: "alice", Action: "servo90", At: start.Add(time.Hour)},
		},
		Config: Config{
			Broker:        "tcp://broker:1883",
			Topic:         "face_control/esp32/rotate",
			CooldownMs:    30000,
			DefaultAction: "servo180",
			Rules:         []Rule{{Identity: "alice", Action: "servo90"}},
			HTTPAddr:      ":8080",
			Workers:       4,
		},
	}

	var sj StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &sj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	s := sj.Status
	if s.UptimeSeconds != 3661 {
		t.Errorf("UptimeSeconds: got %d, want 3661", s.UptimeSeconds)
	}
	if s.StartTime != "2026-01-01T00:00:00Z" {
		t.Errorf("StartTime: got %q", s.StartTime)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://broker:1883" || s.MQTT.Topic != "face_control/esp32/rotate" {
		t.Errorf("MQTT: got %+v", s.MQTT)
	}
	if s.Capture.LastFrame != "2026-01-01T01:01:00Z" {
		t.Errorf("Capture.LastFrame: got %q", s.Capture.LastFrame)
	}
	if s.Counts.Frames != 10 || s.Counts.Dispatches != 2 || s.Counts.Suppressed != 1 {
		t.Errorf("Counts: got %+v", s.Counts)
	}
	if len(s.Recent) != 1 || s.Recent[0].Identity != "alice" || s.Recent[0].At != "2026-01-01T01:00:00Z" {
		t.Errorf("Recent: got %+v", s.Recent)
	}
	if len(s.Config.Rules) != 1 || s.Config.Rules[0].Action != "servo90" {
		t.Errorf("Config.Rules: got %+v", s.Config.Rules)
	}
	if s.Config.DefaultAction != "servo180" || s.Config.Workers != 4 {
		t.Errorf("Config: got %+v", s.Config)
	}
}

func TestFormatJSONEmptyListsAreArrays(t *testing.T) {
	data := FormatJSON(Snapshot{})

	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := string(raw["status"]["recent"]); got != "[]" {
		t.Errorf("recent: got %s, want []", got)
	}
}
