package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event names used on the bus.
const (
	EventControlUpdate = "ControlUpdate"
)

// ShutdownKey is the payload key of the shutdown sentinel {"EXIT": true}.
const ShutdownKey = "EXIT"

// Event is the {event, data} framing used for control-originated updates.
// Other producers may publish arbitrary JSON; the framing is a convention,
// not an enforced schema.
type Event struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// EncodeEvent returns the JSON wire form of an event.
func EncodeEvent(name string, data map[string]any) ([]byte, error) {
	payload, err := json.Marshal(Event{Event: name, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", name, err)
	}
	return payload, nil
}

// PublishEvent encodes an {event, data} message and publishes it.
func PublishEvent(t Transport, topic, name string, data map[string]any) error {
	payload, err := EncodeEvent(name, data)
	if err != nil {
		return err
	}
	return t.Publish(topic, payload)
}

// PublishJSON encodes v as JSON and publishes it.
func PublishJSON(t Transport, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	return t.Publish(topic, payload)
}

// ShutdownPayload returns the sentinel that tells subscribers to stop.
func ShutdownPayload() []byte {
	return []byte(`{"` + ShutdownKey + `":true}`)
}

// Normalize classifies an inbound payload. A JSON object is returned as-is;
// any other JSON value is wrapped as {"value": v}; bytes that are not JSON are
// wrapped as {"value": "<text>"}. Every subscriber goes through Normalize so
// topics with mixed producers stay consumable.
func Normalize(payload []byte) map[string]any {
	var v any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		return map[string]any{"value": string(payload)}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

// IsShutdown reports whether a normalised payload is the shutdown sentinel.
func IsShutdown(m map[string]any) bool {
	v, ok := m[ShutdownKey].(bool)
	return ok && v
}

// EventName returns the "event" field of a normalised payload, if any.
func EventName(m map[string]any) string {
	s, _ := m["event"].(string)
	return s
}

// EventData returns the "data" mapping of a normalised payload, or nil.
func EventData(m map[string]any) map[string]any {
	d, _ := m["data"].(map[string]any)
	return d
}
