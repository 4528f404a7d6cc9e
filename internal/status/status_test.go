package status

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pinbus/internal/control"
	"github.com/sweeney/pinbus/internal/gpio"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newControl(t *testing.T, key, pin string, edge control.EdgeMode) *control.Control {
	t.Helper()
	p, err := gpio.ParsePin(pin)
	if err != nil {
		t.Fatal(err)
	}
	c, err := control.New(control.Config{Key: key, Pin: p, Edge: edge}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Init(gpio.NewFakeProvider(), start); err != nil {
		t.Fatal(err)
	}
	return c
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker("garage", start, Config{PollMs: 20, HeartbeatMs: 900000, BusType: "mqtt", Broker: "tcp://localhost:1883", Topic: "pinbus", HTTPAddr: ":8080"})
	tr.now = func() time.Time { return start.Add(90 * time.Second) }
	return tr
}

func TestNewTracker(t *testing.T) {
	tr := newTestTracker(t)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 20 {
		t.Errorf("Config.PollMs: got %d, want 20", snap.Config.PollMs)
	}
	if snap.Node != "garage" {
		t.Errorf("Node: got %q", snap.Node)
	}
	if snap.BusConnected {
		t.Error("expected BusConnected=false initially")
	}
	if !snap.Ready() {
		t.Error("a tracker with no controls is ready")
	}
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v", snap.Uptime())
	}
}

func TestObserveReading(t *testing.T) {
	tr := newTestTracker(t)
	tr.AddControl(newControl(t, "door", "GPIO17", control.EdgeRose))
	tr.AddControl(newControl(t, "window", "GPIO27", control.EdgeNone))

	if tr.Snapshot().Ready() {
		t.Error("expected not ready before any reading")
	}

	tr.ObserveReading("door", control.True, true)
	tr.ObserveReading("door", control.False, false)
	tr.ObserveReading("window", control.Unknown, true)
	tr.ObserveReading("nobody", control.True, true)

	snap := tr.Snapshot()
	if !snap.Ready() {
		t.Error("expected ready after every control was read")
	}
	if len(snap.Controls) != 2 {
		t.Fatalf("Controls: got %d, want 2", len(snap.Controls))
	}
	door := snap.Controls[0]
	if door.Value != control.False || door.Updates != 1 || door.Edge != "rose" || door.Pin != "GPIO17" {
		t.Errorf("door: got %+v", door)
	}
	if !door.LastChange.Equal(start.Add(90 * time.Second)) {
		t.Errorf("door.LastChange: got %v", door.LastChange)
	}
	if snap.Controls[1].Value != control.Unknown {
		t.Errorf("window: got %v, want unknown", snap.Controls[1].Value)
	}
}

func TestAddControlIgnoresDuplicates(t *testing.T) {
	tr := newTestTracker(t)
	c := newControl(t, "door", "GPIO17", control.EdgeRose)
	tr.AddControl(c)
	tr.AddControl(c)
	if n := len(tr.Snapshot().Controls); n != 1 {
		t.Errorf("Controls: got %d, want 1", n)
	}
}

func TestObserveTrigger(t *testing.T) {
	tr := newTestTracker(t)
	tr.AddAction("notify", "Notify", "command")

	tr.ObserveTrigger("notify", nil)
	tr.ObserveTrigger("notify", errors.New("exit status 2"))
	tr.ObserveTrigger("unknown", nil)

	snap := tr.Snapshot()
	a := snap.Actions[0]
	if a.Triggers != 2 || a.Failures != 1 || a.LastError != "exit status 2" {
		t.Errorf("action: got %+v", a)
	}
}

func TestSetBusConnected(t *testing.T) {
	tr := newTestTracker(t)

	tr.SetBusConnected(true)
	if !tr.Snapshot().BusConnected {
		t.Error("expected BusConnected=true")
	}
	tr.SetBusConnected(false)
	if tr.Snapshot().BusConnected {
		t.Error("expected BusConnected=false")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := newTestTracker(t)
	tr.AddControl(newControl(t, "door", "GPIO17", control.EdgeRose))

	snap := tr.Snapshot()
	snap.Controls[0].Updates = 99
	if tr.Snapshot().Controls[0].Updates != 0 {
		t.Error("mutating a snapshot changed the tracker")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := newTestTracker(t)
	tr.AddControl(newControl(t, "door", "GPIO17", control.EdgeRose))
	tr.AddAction("notify", "Notify", "command")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); tr.ObserveReading("door", control.True, true) }()
		go func() { defer wg.Done(); tr.ObserveTrigger("notify", nil) }()
		go func() { defer wg.Done(); _ = tr.Snapshot() }()
	}
	wg.Wait()

	snap := tr.Snapshot()
	if snap.Controls[0].Updates != 50 || snap.Actions[0].Triggers != 50 {
		t.Errorf("got %d updates, %d triggers", snap.Controls[0].Updates, snap.Actions[0].Triggers)
	}
}

func TestFormatJSON(t *testing.T) {
	tr := newTestTracker(t)
	tr.AddControl(newControl(t, "door", "GPIO17", control.EdgeRose))
	tr.AddControl(newControl(t, "window", "GPIO27", control.EdgeNone))
	tr.ObserveReading("door", control.True, true)
	tr.SetBusConnected(true)
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "home"})

	var got StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &got); err != nil {
		t.Fatal(err)
	}
	s := got.Status
	if s.Event != "" || s.Reason != "" {
		t.Error("web JSON must not carry event/reason")
	}
	if s.UptimeSeconds != 90 {
		t.Errorf("uptime_seconds: got %d, want 90", s.UptimeSeconds)
	}
	if s.StartTime != "2026-01-01T00:00:00Z" {
		t.Errorf("start_time: got %q", s.StartTime)
	}
	if !s.Bus.Connected || s.Bus.Topic != "pinbus" {
		t.Errorf("bus: got %+v", s.Bus)
	}
	if s.Ready {
		t.Error("window has not been read, expected ready=false")
	}
	if s.Network == nil || s.Network.SSID != "home" {
		t.Errorf("network: got %+v", s.Network)
	}
}

func TestControlValueEncoding(t *testing.T) {
	tr := newTestTracker(t)
	tr.AddControl(newControl(t, "door", "GPIO17", control.EdgeRose))
	tr.AddControl(newControl(t, "window", "GPIO27", control.EdgeNone))
	tr.ObserveReading("door", control.True, true)

	var raw struct {
		Status struct {
			Controls []map[string]any `json:"controls"`
		} `json:"status"`
	}
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &raw); err != nil {
		t.Fatal(err)
	}
	if v := raw.Status.Controls[0]["value"]; v != true {
		t.Errorf("door value: got %v, want true", v)
	}
	if v, ok := raw.Status.Controls[1]["value"]; !ok || v != nil {
		t.Errorf("window value: got %v, want null", v)
	}
	if _, ok := raw.Status.Controls[1]["last_change"]; ok {
		t.Error("last_change must be omitted before any update")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := newTestTracker(t)

	var got StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(tr.Snapshot(), EventShutdown, "SIGTERM"), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status.Event != "SHUTDOWN" || got.Status.Reason != "SIGTERM" {
		t.Errorf("got event=%q reason=%q", got.Status.Event, got.Status.Reason)
	}
	if got.Status.Controls == nil {
		t.Error("controls should encode as an empty array")
	}
}

func TestOfflinePayload(t *testing.T) {
	var got StatusJSON
	if err := json.Unmarshal(OfflinePayload("garage"), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status.Event != EventOffline || got.Status.Node != "garage" {
		t.Errorf("got %+v", got.Status)
	}
}

func TestSnapshotReportsEdgeCounts(t *testing.T) {
	p, err := gpio.ParsePin("GPIO17")
	if err != nil {
		t.Fatal(err)
	}
	prov := gpio.NewFakeProvider()
	line := prov.Line(17)
	c, err := control.New(control.Config{Key: "door", Pin: p, Edge: control.EdgeBoth, Debounce: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Init(prov, start); err != nil {
		t.Fatal(err)
	}

	tr := newTestTracker(t)
	tr.AddControl(c)

	// high, low, high: two rises and one fall once each level settles
	now := start
	for _, level := range []bool{true, false, true} {
		line.Set(level)
		for i := 0; i < 3; i++ {
			now = now.Add(10 * time.Millisecond)
			c.Read(now)
		}
	}

	snap := tr.Snapshot()
	if got := snap.Controls[0].Edges; got.Rose != 2 || got.Fell != 1 {
		t.Errorf("Edges: got %+v, want 2 rose / 1 fell", got)
	}

	var raw struct {
		Status struct {
			Controls []map[string]any `json:"controls"`
		} `json:"status"`
	}
	if err := json.Unmarshal(FormatStatusEvent(snap, EventHeartbeat, ""), &raw); err != nil {
		t.Fatal(err)
	}
	door := raw.Status.Controls[0]
	if door["rose"] != float64(2) || door["fell"] != float64(1) {
		t.Errorf("heartbeat counts: got rose=%v fell=%v", door["rose"], door["fell"])
	}
}
