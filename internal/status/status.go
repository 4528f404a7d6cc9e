// Package status provides a thread-safe status tracker for the pinbus daemon.
// It is read by the HTTP handlers and by the lifecycle system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pinbus/internal/control"
	"github.com/sweeney/pinbus/internal/logic"
)

// NetworkInfo is the host network state pi-helper writes to its env file.
// It is embedded as-is in status JSON.
type NetworkInfo struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	BusType     string
	Broker      string
	Topic       string
	HTTPAddr    string
}

// ControlStatus is the last known state of one control.
type ControlStatus struct {
	Key        string
	Name       string
	Pin        string
	Edge       string
	Supported  bool
	Value      control.Value
	Read       bool // at least one reading taken
	Updates    int  // updates published
	LastChange time.Time
	Edges      logic.EdgeCounts // debounced transitions; edge modes only
}

// ActionStatus counts the triggers of one action.
type ActionStatus struct {
	Key         string
	Name        string
	Type        string
	Triggers    int
	Failures    int
	LastError   string
	LastTrigger time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Node         string
	Controls     []ControlStatus
	Actions      []ActionStatus
	StartTime    time.Time
	Now          time.Time
	BusConnected bool
	Network      *NetworkInfo
	Config       Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether every control has been read at least once.
func (s Snapshot) Ready() bool {
	for _, c := range s.Controls {
		if !c.Read {
			return false
		}
	}
	return true
}

// Tracker holds mutable daemon state behind an RWMutex. It implements
// control.Observer and action.Observer.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	controls map[string]int
	sources  []*control.Control
	actions  map[string]int
	now      func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(node string, startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Node:      node,
			StartTime: startTime,
			Config:    cfg,
		},
		controls: make(map[string]int),
		actions:  make(map[string]int),
		now:      time.Now,
	}
}

// AddControl registers a control for display. Readings for unregistered
// keys are ignored.
func (t *Tracker) AddControl(c *control.Control) {
	cfg := c.Config()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.controls[c.Key()]; ok {
		return
	}
	t.controls[c.Key()] = len(t.snap.Controls)
	t.sources = append(t.sources, c)
	t.snap.Controls = append(t.snap.Controls, ControlStatus{
		Key:       c.Key(),
		Name:      c.Name(),
		Pin:       cfg.Pin.Name,
		Edge:      c.Edge().String(),
		Supported: c.Supported(),
	})
}

// AddAction registers an action for display.
func (t *Tracker) AddAction(key, name, typ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.actions[key]; ok {
		return
	}
	t.actions[key] = len(t.snap.Actions)
	t.snap.Actions = append(t.snap.Actions, ActionStatus{Key: key, Name: name, Type: typ})
}

// ObserveReading records a control reading. Called from every worker tick.
func (t *Tracker) ObserveReading(key string, v control.Value, published bool) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.controls[key]
	if !ok {
		return
	}
	c := &t.snap.Controls[i]
	c.Value = v
	c.Read = true
	if published {
		c.Updates++
		c.LastChange = now
	}
}

// ObserveTrigger records the outcome of an action trigger.
func (t *Tracker) ObserveTrigger(key string, err error) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.actions[key]
	if !ok {
		return
	}
	a := &t.snap.Actions[i]
	a.Triggers++
	a.LastTrigger = now
	if err != nil {
		a.Failures++
		a.LastError = err.Error()
	}
}

// SetBusConnected sets the transport connection status.
func (t *Tracker) SetBusConnected(connected bool) {
	t.mu.Lock()
	t.snap.BusConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Controls = append([]ControlStatus(nil), t.snap.Controls...)
	s.Actions = append([]ActionStatus(nil), t.snap.Actions...)
	sources := t.sources
	t.mu.RUnlock()

	// Control locks are taken outside t.mu; workers hold neither while
	// reporting to the tracker.
	for i, c := range sources {
		s.Controls[i].Edges = c.Counts()
	}
	s.Now = t.now()
	return s
}
