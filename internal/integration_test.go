package internal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pinbus/internal/action"
	"github.com/sweeney/pinbus/internal/bus"
	"github.com/sweeney/pinbus/internal/control"
	"github.com/sweeney/pinbus/internal/gpio"
	"github.com/sweeney/pinbus/internal/status"
)

// recordingRunner stands in for process execution.
type recordingRunner struct {
	mu    sync.Mutex
	calls []action.Command
}

func (r *recordingRunner) Run(_ context.Context, c action.Command) (action.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	return action.Result{}, nil
}

func (r *recordingRunner) Calls() []action.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]action.Command(nil), r.calls...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestIntegrationFullFlow drives a debounced rising edge from a fake line
// through the worker, the in-process bus and the dispatcher into one event
// action and one command action.
func TestIntegrationFullFlow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := gpio.NewFakeProvider()
	line := provider.Line(17)
	rec := bus.NewRecorder()
	runner := &recordingRunner{}
	tracker := status.NewTracker("garage", start, status.Config{BusType: "memory", Topic: "garage"})

	pin, err := gpio.ParsePin("GPIO17")
	if err != nil {
		t.Fatal(err)
	}
	door, err := control.New(control.Config{Key: "Door", Pin: pin, Edge: control.EdgeRose, Debounce: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := door.Init(provider, start); err != nil {
		t.Fatal(err)
	}
	tracker.AddControl(door)

	lights, err := action.New(action.Config{Key: "lights", Topic: "lights", Action: map[string]any{"state": "on"}}, rec, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	notify, err := action.New(action.Config{Key: "notify", Type: action.TypeCommand, Action: "/usr/local/bin/notify --door"}, rec, runner, nil)
	if err != nil {
		t.Fatal(err)
	}
	tracker.AddAction(lights.Key(), lights.Name(), lights.Type().String())
	tracker.AddAction(notify.Key(), notify.Name(), notify.Type().String())

	dispatcher, err := action.NewDispatcher(rec, []*action.Action{lights, notify}, []action.Route{
		{Topic: "garage", Event: bus.EventControlUpdate, Key: "door", Actions: []string{"lights", "notify"}},
	}, tracker, nil)
	if err != nil {
		t.Fatal(err)
	}

	worker := control.NewWorker(door, rec, control.WorkerConfig{Topic: "garage", Observer: tracker})

	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(context.Background()) }()
	waitFor(t, "dispatcher subscription", func() bool { return rec.SubscriberCount() == 1 })

	// Baseline low, then a bounce shorter than the debounce interval
	steps := []struct {
		at    time.Duration
		level bool
	}{
		{10 * time.Millisecond, false},
		{20 * time.Millisecond, true},
		{40 * time.Millisecond, false},
		{100 * time.Millisecond, true},
		{130 * time.Millisecond, true},
		{160 * time.Millisecond, true}, // accepted: rose
		{170 * time.Millisecond, true},
	}
	published := 0
	for _, s := range steps {
		line.Set(s.level)
		if worker.Poll(start.Add(s.at)) {
			published++
		}
	}
	if published != 1 {
		t.Fatalf("updates published: got %d, want 1", published)
	}

	updates := rec.PublishedTo("garage")
	var ev bus.Event
	if err := json.Unmarshal(updates[0].Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Event != bus.EventControlUpdate || ev.Data["door"] != true {
		t.Errorf("update: got %+v", ev)
	}

	waitFor(t, "command action", func() bool { return len(runner.Calls()) == 1 })
	waitFor(t, "event action", func() bool { return len(rec.PublishedTo("lights")) == 1 })

	call := runner.Calls()[0]
	if call.Template != "/usr/local/bin/notify --door" || len(call.Args) != 1 || call.Args[0] != "true" {
		t.Errorf("command: got %+v", call)
	}
	if got := string(rec.PublishedTo("lights")[0].Data); got != `{"state":"on"}` {
		t.Errorf("lights payload: got %s", got)
	}

	if err := rec.Publish("garage", bus.ShutdownPayload()); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dispatcher: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on shutdown message")
	}

	snap := tracker.Snapshot()
	if !snap.Ready() {
		t.Error("expected tracker ready")
	}
	if snap.Controls[0].Updates != 1 || snap.Controls[0].Value != control.False {
		t.Errorf("door status: got %+v", snap.Controls[0])
	}
	for _, a := range snap.Actions {
		if a.Triggers != 1 || a.Failures != 0 {
			t.Errorf("action %s: got %+v", a.Key, a)
		}
	}
	if len(runner.Calls()) != 1 {
		t.Errorf("shutdown message fired actions: %d calls", len(runner.Calls()))
	}
}

// TestIntegrationUnsupportedHost checks that a host without GPIO still
// reports every control as unknown exactly once.
func TestIntegrationUnsupportedHost(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := bus.NewRecorder()

	pin, err := gpio.ParsePin("GPIO17")
	if err != nil {
		t.Fatal(err)
	}
	c, err := control.New(control.Config{Key: "door", Pin: pin}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Init(gpio.Unsupported{}, start); err != nil {
		t.Fatalf("unsupported host must not fail init: %v", err)
	}
	if c.Supported() {
		t.Error("expected Supported=false")
	}

	w := control.NewWorker(c, rec, control.WorkerConfig{Topic: "garage"})
	for i := 0; i < 5; i++ {
		w.Poll(start.Add(time.Duration(i) * 10 * time.Millisecond))
	}

	updates := rec.PublishedTo("garage")
	if len(updates) != 1 {
		t.Fatalf("updates: got %d, want 1", len(updates))
	}
	var raw struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(updates[0].Data, &raw); err != nil {
		t.Fatal(err)
	}
	if v, ok := raw.Data["door"]; !ok || v != nil {
		t.Errorf("door: got %v, want null", v)
	}
}
