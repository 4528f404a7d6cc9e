// Package logic contains the pure debounce state machine for digital inputs.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultInterval is the minimum time a new level must persist before it is
// accepted as the stable level.
const DefaultInterval = 10 * time.Millisecond

// Edge is the transition recognised by a single update.
type Edge int8

const (
	EdgeNone Edge = iota
	EdgeRose      // stable level went inactive -> active
	EdgeFell      // stable level went active -> inactive
)

func (e Edge) String() string {
	switch e {
	case EdgeRose:
		return "rose"
	case EdgeFell:
		return "fell"
	default:
		return "none"
	}
}

// Sample is a single raw reading of a line, already in logical form.
type Sample struct {
	Level bool // true = active
	Time  time.Time
}

// ChannelState tracks debounce state for a single line.
type ChannelState struct {
	// Current stable (debounced) level
	Stable bool
	// Candidate level during debounce; only meaningful while Bouncing is set
	Pending bool
	// Time when the candidate was first observed
	PendingSince time.Time
	// Whether a candidate is in flight
	Bouncing bool
	// Whether the first sample has seeded Stable
	Baselined bool
}

// EdgeCounts tracks accepted transitions since startup.
type EdgeCounts struct {
	Rose int
	Fell int
}

// NormalizeKey lowercases s and replaces spaces with underscores.
func NormalizeKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// NameFromKey derives a human label from a normalised key ("door_sensor" -> "Door Sensor").
func NameFromKey(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
