package logic

import "time"

// Debouncer turns raw samples for one line into a stable level and one-shot
// edge flags. It is not safe for concurrent use; the owner must serialise calls.
type Debouncer struct {
	interval time.Duration
	state    ChannelState
	rose     bool
	fell     bool
	counts   EdgeCounts
}

// NewDebouncer creates a debouncer that requires a new level to persist for
// interval before accepting it. Non-positive intervals use DefaultInterval.
func NewDebouncer(interval time.Duration) *Debouncer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Debouncer{interval: interval}
}

// Update processes one sample and returns the edge recognised on this tick.
// The first sample seeds the stable level and never produces an edge.
func (d *Debouncer) Update(s Sample) Edge {
	d.rose, d.fell = false, false
	ch := &d.state

	if !ch.Baselined {
		ch.Stable = s.Level
		ch.Baselined = true
		return EdgeNone
	}

	// Back at the stable level, drop any candidate
	if s.Level == ch.Stable {
		ch.Bouncing = false
		return EdgeNone
	}

	// New or changed candidate
	if !ch.Bouncing || ch.Pending != s.Level {
		ch.Pending = s.Level
		ch.PendingSince = s.Time
		ch.Bouncing = true
		return EdgeNone
	}

	if s.Time.Sub(ch.PendingSince) < d.interval {
		return EdgeNone
	}

	ch.Stable = s.Level
	ch.Bouncing = false
	if s.Level {
		d.rose = true
		d.counts.Rose++
		return EdgeRose
	}
	d.fell = true
	d.counts.Fell++
	return EdgeFell
}

// Rose reports whether the last update accepted an inactive -> active transition.
func (d *Debouncer) Rose() bool { return d.rose }

// Fell reports whether the last update accepted an active -> inactive transition.
func (d *Debouncer) Fell() bool { return d.fell }

// Stable returns the current debounced level.
func (d *Debouncer) Stable() bool { return d.state.Stable }

// IsBaselined returns whether a first sample has been seen.
func (d *Debouncer) IsBaselined() bool { return d.state.Baselined }

// Interval returns the configured settle time.
func (d *Debouncer) Interval() time.Duration { return d.interval }

// Counts returns the number of accepted transitions since creation.
func (d *Debouncer) Counts() EdgeCounts { return d.counts }
