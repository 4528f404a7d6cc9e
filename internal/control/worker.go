package control

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/sweeney/pinbus/internal/bus"
)

// DefaultPoll is the sampling cadence used when none is configured.
const DefaultPoll = 20 * time.Millisecond

// Observer receives every reading a Worker takes.
type Observer interface {
	ObserveReading(key string, v Value, published bool)
}

// Observers fans out to several observers.
type Observers []Observer

// ObserveReading forwards to each observer.
func (o Observers) ObserveReading(key string, v Value, published bool) {
	for _, obs := range o {
		obs.ObserveReading(key, v, published)
	}
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Topic    string        // defaults to bus.DefaultTopic
	Poll     time.Duration // defaults to DefaultPoll
	Observer Observer      // optional
	Logger   *slog.Logger  // optional
	Now      func() time.Time
}

// Worker polls one control on a fixed cadence and publishes ControlUpdate
// events. With an edge mode, an update is published for each tick on which
// the edge is detected. With EdgeNone, an update is published whenever the
// level differs from the last published one. Entering the Unknown state is
// published once in both cases.
type Worker struct {
	control   *Control
	transport bus.Transport
	cfg       WorkerConfig
	logger    *slog.Logger

	last      Value
	published bool
}

// NewWorker creates a worker for c publishing on t.
func NewWorker(c *Control, t bus.Transport, cfg WorkerConfig) *Worker {
	if cfg.Topic == "" {
		cfg.Topic = bus.DefaultTopic
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Worker{
		control:   c,
		transport: t,
		cfg:       cfg,
		logger:    logger.With("control", c.Key(), "topic", cfg.Topic),
	}
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()
	return w.RunTicks(ctx, ticker.C)
}

// RunTicks polls once per value received on tick until ctx is done.
func (w *Worker) RunTicks(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			w.Poll(w.cfg.Now())
		}
	}
}

// Poll takes one reading and publishes it if it is news. It reports whether
// an update was published.
func (w *Worker) Poll(now time.Time) bool {
	v := w.control.Read(now)
	send := w.shouldPublish(v)

	if send {
		data := map[string]any{w.control.Key(): v}
		if err := bus.PublishEvent(w.transport, w.cfg.Topic, bus.EventControlUpdate, data); err != nil {
			// Last published state is untouched, so a level or Unknown
			// update is retried next tick. A one-shot edge is lost.
			w.logger.Warn("publish failed", "error", err)
			send = false
		} else {
			w.logger.Debug("published update", "value", v.String())
			w.last = v
			w.published = true
		}
	}

	if w.cfg.Observer != nil {
		w.cfg.Observer.ObserveReading(w.control.Key(), v, send)
	}
	return send
}

func (w *Worker) shouldPublish(v Value) bool {
	if v == Unknown {
		return !w.published || w.last != Unknown
	}
	if w.control.Edge() != EdgeNone {
		if v == False {
			// Leave the Unknown state silently; the next edge is the news
			w.last = False
			return false
		}
		return true
	}
	return !w.published || v != w.last
}

// Control returns the polled control.
func (w *Worker) Control() *Control { return w.control }
