package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sweeney/pinbus/internal/bus"
	"github.com/sweeney/pinbus/internal/logic"
)

var (
	// ErrUnknownAction is returned when a route or trigger names no known action.
	ErrUnknownAction = errors.New("action: unknown action")

	// ErrDuplicateKey is returned when two actions share a key.
	ErrDuplicateKey = errors.New("action: duplicate key")

	// ErrInvalidRoute is returned for a route without a topic or actions.
	ErrInvalidRoute = errors.New("action: invalid route")
)

// Route binds messages on Topic (an MQTT-style filter) to actions.
//
// Event, if set, must equal the message's "event" field. Key, if set, must
// be present in the message's "data" mapping; its value is passed to each
// action as the trigger value. Without Key the actions fire with no value.
type Route struct {
	Topic   string
	Event   string
	Key     string
	Actions []string
}

// Observer is told the outcome of every trigger.
type Observer interface {
	ObserveTrigger(key string, err error)
}

// Observers fans out to several observers.
type Observers []Observer

// ObserveTrigger forwards to each observer.
func (o Observers) ObserveTrigger(key string, err error) {
	for _, obs := range o {
		obs.ObserveTrigger(key, err)
	}
}

// Dispatcher subscribes to route topics and fires matching actions.
type Dispatcher struct {
	transport bus.Transport
	actions   map[string]*Action
	order     []string
	routes    []Route
	observer  Observer
	logger    *slog.Logger
}

// NewDispatcher validates routes against actions. observer may be nil.
func NewDispatcher(t bus.Transport, actions []*Action, routes []Route, observer Observer, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{
		transport: t,
		actions:   make(map[string]*Action, len(actions)),
		observer:  observer,
		logger:    logger.With("component", "dispatcher"),
	}
	for _, a := range actions {
		if _, dup := d.actions[a.Key()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, a.Key())
		}
		d.actions[a.Key()] = a
		d.order = append(d.order, a.Key())
	}

	for i, r := range routes {
		if r.Topic == "" || len(r.Actions) == 0 {
			return nil, fmt.Errorf("route[%d]: %w: topic and actions are required", i, ErrInvalidRoute)
		}
		keys := make([]string, len(r.Actions))
		for j, k := range r.Actions {
			keys[j] = logic.NormalizeKey(k)
			if _, ok := d.actions[keys[j]]; !ok {
				return nil, fmt.Errorf("route[%d] %s: %w: %q", i, r.Topic, ErrUnknownAction, k)
			}
		}
		r.Actions = keys
		r.Key = logic.NormalizeKey(r.Key)
		d.routes = append(d.routes, r)
	}
	return d, nil
}

// Topics returns the distinct route topics in configuration order.
func (d *Dispatcher) Topics() []string {
	seen := make(map[string]bool)
	var topics []string
	for _, r := range d.routes {
		if !seen[r.Topic] {
			seen[r.Topic] = true
			topics = append(topics, r.Topic)
		}
	}
	return topics
}

// Run subscribes to every route topic and handles messages until the
// shutdown sentinel arrives or ctx is done. Both end the loop cleanly with
// the subscription released. Action failures are logged and never stop it.
func (d *Dispatcher) Run(ctx context.Context) error {
	topics := d.Topics()
	if len(topics) == 0 {
		d.logger.Info("no routes configured")
		return nil
	}

	sub, err := d.transport.Subscribe(ctx, topics...)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			d.logger.Warn("unsubscribe failed", "error", err)
		}
	}()
	d.logger.Info("dispatching", "topics", topics)

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrUnsubscribed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if d.Handle(ctx, msg) {
			d.logger.Info("shutdown message received", "topic", msg.Topic)
			return nil
		}
	}
}

// Handle processes one message and reports whether it was the shutdown
// sentinel.
func (d *Dispatcher) Handle(ctx context.Context, msg bus.Message) bool {
	m := bus.Normalize(msg.Data)
	if bus.IsShutdown(m) {
		return true
	}

	for _, r := range d.routes {
		if !bus.Match(r.Topic, msg.Topic) {
			continue
		}
		if r.Event != "" && bus.EventName(m) != r.Event {
			continue
		}
		if r.Key == "" {
			for _, key := range r.Actions {
				d.fire(key, func(a *Action) error { return a.Trigger(ctx) })
			}
			continue
		}
		v, ok := bus.EventData(m)[r.Key]
		if !ok {
			continue
		}
		for _, key := range r.Actions {
			d.fire(key, func(a *Action) error { return a.TriggerValue(ctx, v) })
		}
	}
	return false
}

// Trigger fires one action directly. A nil value fires it with no value.
func (d *Dispatcher) Trigger(ctx context.Context, key string, value any) error {
	a, ok := d.actions[logic.NormalizeKey(key)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, key)
	}
	var err error
	if value == nil {
		err = a.Trigger(ctx)
	} else {
		err = a.TriggerValue(ctx, value)
	}
	if d.observer != nil {
		d.observer.ObserveTrigger(a.Key(), err)
	}
	return err
}

func (d *Dispatcher) fire(key string, call func(*Action) error) {
	a := d.actions[key]
	err := call(a)
	if err != nil {
		var exit *ExitError
		if errors.As(err, &exit) {
			d.logger.Warn("action exited non-zero", "action", key, "code", exit.Code, "output", exit.Output)
		} else {
			d.logger.Error("action failed", "action", key, "error", err)
		}
	}
	if d.observer != nil {
		d.observer.ObserveTrigger(key, err)
	}
}

// Actions returns the configured actions in configuration order.
func (d *Dispatcher) Actions() []*Action {
	out := make([]*Action, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.actions[k])
	}
	return out
}

// Routes returns the validated routes.
func (d *Dispatcher) Routes() []Route {
	return append([]Route(nil), d.routes...)
}
