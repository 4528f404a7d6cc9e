// Package action implements configured reactions to bus messages: publishing
// a canned payload, or running an external command.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sweeney/pinbus/internal/bus"
	"github.com/sweeney/pinbus/internal/logic"
)

var (
	// ErrMissingKey is returned when an action has no key.
	ErrMissingKey = errors.New("action: key is required")

	// ErrUnknownType is returned for a type other than event or command.
	ErrUnknownType = errors.New("action: unknown type")

	// ErrMissingAction is returned when there is nothing to publish or run.
	ErrMissingAction = errors.New("action: action is required")
)

// Type selects what an Action does when triggered.
type Type int

const (
	TypeEvent Type = iota
	TypeCommand
)

func (t Type) String() string {
	switch t {
	case TypeEvent:
		return "event"
	case TypeCommand:
		return "command"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType accepts "event" (the default when empty) or "command".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "event":
		return TypeEvent, nil
	case "command":
		return TypeCommand, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// Config describes one action.
type Config struct {
	Key  string
	Name string
	Type Type

	// Action is the JSON-compatible payload for event actions, or the command
	// template string for command actions.
	Action any

	Topic   string        // event only; defaults to bus.DefaultTopic
	Shell   bool          // command only
	Timeout time.Duration // command only; zero waits indefinitely
}

// Action is a configured, triggerable reaction.
type Action struct {
	cfg       Config
	transport bus.Transport
	runner    Runner
	logger    *slog.Logger

	payload  []byte // event
	template string // command
}

// New validates cfg and binds the action to its collaborators. Event actions
// need a transport; command actions need a runner (nil uses ExecRunner).
func New(cfg Config, t bus.Transport, r Runner, logger *slog.Logger) (*Action, error) {
	cfg.Key = logic.NormalizeKey(cfg.Key)
	if cfg.Key == "" {
		return nil, ErrMissingKey
	}
	if cfg.Name == "" {
		cfg.Name = logic.NameFromKey(cfg.Key)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	a := &Action{
		transport: t,
		runner:    r,
		logger:    logger.With("action", cfg.Key, "type", cfg.Type.String()),
	}

	switch cfg.Type {
	case TypeEvent:
		if cfg.Action == nil {
			return nil, fmt.Errorf("%s: %w", cfg.Key, ErrMissingAction)
		}
		if t == nil {
			return nil, fmt.Errorf("%s: event action needs a transport", cfg.Key)
		}
		if cfg.Topic == "" {
			cfg.Topic = bus.DefaultTopic
		}
		payload, err := json.Marshal(cfg.Action)
		if err != nil {
			return nil, fmt.Errorf("%s: encode payload: %w", cfg.Key, err)
		}
		a.payload = payload
	case TypeCommand:
		tmpl, ok := cfg.Action.(string)
		if !ok || strings.TrimSpace(tmpl) == "" {
			return nil, fmt.Errorf("%s: %w: command must be a non-empty string", cfg.Key, ErrMissingAction)
		}
		if _, err := (Command{Template: tmpl, Shell: cfg.Shell}).Argv(); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Key, err)
		}
		a.template = tmpl
		if a.runner == nil {
			a.runner = ExecRunner{}
		}
	default:
		return nil, fmt.Errorf("%s: %w: %v", cfg.Key, ErrUnknownType, cfg.Type)
	}

	a.cfg = cfg
	return a, nil
}

// Trigger fires the action with no value.
func (a *Action) Trigger(ctx context.Context) error {
	return a.trigger(ctx, nil)
}

// TriggerValue fires the action with v. Event actions ignore v and publish
// their configured payload. Command actions receive the JSON encoding of v
// as one extra argument.
func (a *Action) TriggerValue(ctx context.Context, v any) error {
	arg, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: encode value: %w", a.cfg.Key, err)
	}
	return a.trigger(ctx, []string{string(arg)})
}

func (a *Action) trigger(ctx context.Context, args []string) error {
	if a.cfg.Type == TypeEvent {
		if err := a.transport.Publish(a.cfg.Topic, a.payload); err != nil {
			return fmt.Errorf("%s: publish %s: %w", a.cfg.Key, a.cfg.Topic, err)
		}
		a.logger.Debug("published", "topic", a.cfg.Topic)
		return nil
	}

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := a.runner.Run(ctx, Command{Template: a.template, Args: args, Shell: a.cfg.Shell})
	if err != nil {
		return fmt.Errorf("%s: %w", a.cfg.Key, err)
	}
	a.logger.Debug("command finished", "duration", time.Since(start), "output", res.Output)
	return nil
}

// Key returns the normalised key.
func (a *Action) Key() string { return a.cfg.Key }

// Name returns the display name.
func (a *Action) Name() string { return a.cfg.Name }

// Type returns the action type.
func (a *Action) Type() Type { return a.cfg.Type }

// Config returns the resolved configuration.
func (a *Action) Config() Config { return a.cfg }
