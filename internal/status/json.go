package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pinbus/internal/control"
)

// System event names.
const (
	EventStartup   = "STARTUP"
	EventHeartbeat = "HEARTBEAT"
	EventShutdown  = "SHUTDOWN"
	EventOffline   = "OFFLINE"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Node          string        `json:"node"`
	Ready         bool          `json:"ready"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Bus           BusStatus     `json:"bus"`
	Controls      []ControlJSON `json:"controls"`
	Actions       []ActionJSON  `json:"actions"`
	Network       *NetworkInfo  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// BusStatus reports transport state.
type BusStatus struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
	Topic     string `json:"topic"`
}

// ControlJSON is the JSON representation of one control. Value is null
// when no reading is available.
type ControlJSON struct {
	Key        string        `json:"key"`
	Name       string        `json:"name"`
	Pin        string        `json:"pin"`
	Edge       string        `json:"edge"`
	Supported  bool          `json:"supported"`
	Value      control.Value `json:"value"`
	Updates    int           `json:"updates"`
	Rose       int           `json:"rose"`
	Fell       int           `json:"fell"`
	LastChange string        `json:"last_change,omitempty"`
}

// ActionJSON is the JSON representation of one action.
type ActionJSON struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Triggers    int    `json:"triggers"`
	Failures    int    `json:"failures"`
	LastError   string `json:"last_error,omitempty"`
	LastTrigger string `json:"last_trigger,omitempty"`
}

// ConfigJSON echoes the timing and listener settings.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	HTTPAddr    string `json:"http_addr"`
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Node:          snap.Node,
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     timestamp(snap.StartTime),
		Timestamp:     timestamp(snap.Now),
		Bus: BusStatus{
			Type:      snap.Config.BusType,
			Connected: snap.BusConnected,
			Broker:    snap.Config.Broker,
			Topic:     snap.Config.Topic,
		},
		Controls: make([]ControlJSON, 0, len(snap.Controls)),
		Actions:  make([]ActionJSON, 0, len(snap.Actions)),
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	for _, c := range snap.Controls {
		inner.Controls = append(inner.Controls, ControlJSON{
			Key:        c.Key,
			Name:       c.Name,
			Pin:        c.Pin,
			Edge:       c.Edge,
			Supported:  c.Supported,
			Value:      c.Value,
			Updates:    c.Updates,
			Rose:       c.Edges.Rose,
			Fell:       c.Edges.Fell,
			LastChange: timestamp(c.LastChange),
		})
	}
	for _, a := range snap.Actions {
		inner.Actions = append(inner.Actions, ActionJSON{
			Key:         a.Key,
			Name:        a.Name,
			Type:        a.Type,
			Triggers:    a.Triggers,
			Failures:    a.Failures,
			LastError:   a.LastError,
			LastTrigger: timestamp(a.LastTrigger),
		})
	}
	if snap.Network != nil {
		n := *snap.Network
		inner.Network = &n
	}
	return inner
}

// FormatJSON renders the indented document served at /index.json.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// OfflinePayload is the broker's last-will message for node.
func OfflinePayload(node string) []byte {
	data, _ := json.Marshal(StatusJSON{Status: StatusInner{
		Event:    EventOffline,
		Reason:   "connection lost",
		Node:     node,
		Controls: []ControlJSON{},
		Actions:  []ActionJSON{},
	}})
	return data
}
