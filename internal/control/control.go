// Package control wraps a GPIO line with identity, edge mode, and a debounce
// engine, and polls it onto the bus.
package control

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/pinbus/internal/gpio"
	"github.com/sweeney/pinbus/internal/logic"
)

var (
	// ErrMissingKey is returned when a control is configured without a key.
	ErrMissingKey = errors.New("control: key is required")

	// ErrUnknownEdge is returned when an edge mode cannot be parsed.
	ErrUnknownEdge = errors.New("control: unknown edge mode")
)

// EdgeMode selects what Read reports.
type EdgeMode int8

const (
	EdgeNone EdgeMode = iota // raw level, not debounced
	EdgeFell
	EdgeRose
	EdgeBoth
)

func (m EdgeMode) String() string {
	switch m {
	case EdgeFell:
		return "fell"
	case EdgeRose:
		return "rose"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// ParseEdgeMode accepts the configuration spellings of an edge mode.
// The empty string means EdgeNone.
func ParseEdgeMode(s string) (EdgeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return EdgeNone, nil
	case "fell", "falling":
		return EdgeFell, nil
	case "rose", "rising":
		return EdgeRose, nil
	case "both":
		return EdgeBoth, nil
	}
	return EdgeNone, fmt.Errorf("%w: %q", ErrUnknownEdge, s)
}

// Config is the already-parsed configuration of one control.
type Config struct {
	Key      string
	Name     string
	Pin      gpio.Pin
	Bias     gpio.Bias
	Edge     EdgeMode
	Debounce time.Duration // 0 uses logic.DefaultInterval
	Invert   bool          // treat a low line as active
}

// Control reads one input line. Read is safe for concurrent use; calls are
// serialised because the debounce engine is single-owner state.
type Control struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	line    gpio.Line
	engine  *logic.Debouncer
	bound   bool
	faulted bool
}

// New validates cfg and returns an unbound control. The key is normalised
// and the name defaults from it.
func New(cfg Config, logger *slog.Logger) (*Control, error) {
	cfg.Key = logic.NormalizeKey(cfg.Key)
	if cfg.Key == "" {
		return nil, ErrMissingKey
	}
	if cfg.Name == "" {
		cfg.Name = logic.NameFromKey(cfg.Key)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = logic.DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Control{
		cfg:    cfg,
		logger: logger.With("control", cfg.Key),
	}, nil
}

// Init binds the line and allocates the debounce engine, seeding it with an
// initial sample. An unsupported device is not an error: it is logged once
// and every later Read returns Unknown.
func (c *Control) Init(p gpio.Provider, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.engine = logic.NewDebouncer(c.cfg.Debounce)

	line, err := p.Bind(c.cfg.Pin, c.cfg.Bias)
	if errors.Is(err, gpio.ErrUnsupported) {
		c.logger.Warn("gpio unsupported on this host, readings will be unknown", "pin", c.cfg.Pin.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("control %q: %w", c.cfg.Key, err)
	}
	c.line = line
	c.bound = true

	if level, err := c.sample(); err == nil {
		c.engine.Update(logic.Sample{Level: level, Time: now})
	}
	c.logger.Info("control bound", "pin", c.cfg.Pin.String(), "bias", c.cfg.Bias.String(),
		"edge", c.cfg.Edge.String(), "debounce", c.cfg.Debounce)
	return nil
}

// Read samples the line once. With an edge mode the sample goes through the
// debounce engine and Read reports whether the configured edge happened on
// this call. With EdgeNone the engine is bypassed and Read returns the
// instantaneous level. Unknown means no data (unsupported device or read failure).
func (c *Control) Read(now time.Time) Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.bound {
		return Unknown
	}
	level, err := c.sample()
	if err != nil {
		return Unknown
	}
	if c.cfg.Edge == EdgeNone {
		return ValueOf(level)
	}

	c.engine.Update(logic.Sample{Level: level, Time: now})
	switch c.cfg.Edge {
	case EdgeRose:
		return ValueOf(c.engine.Rose())
	case EdgeFell:
		return ValueOf(c.engine.Fell())
	default:
		return ValueOf(c.engine.Rose() || c.engine.Fell())
	}
}

// Level returns the instantaneous logical level without touching the
// debounce engine.
func (c *Control) Level() Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound {
		return Unknown
	}
	level, err := c.sample()
	if err != nil {
		return Unknown
	}
	return ValueOf(level)
}

// Stable returns the debounced level, or Unknown before the first sample.
func (c *Control) Stable() Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil || !c.engine.IsBaselined() {
		return Unknown
	}
	return ValueOf(c.engine.Stable())
}

// sample reads the line and applies inversion. Read failures are logged on
// the transition into the faulted state only. Caller holds c.mu.
func (c *Control) sample() (bool, error) {
	raw, err := c.line.Level()
	if err != nil {
		if !c.faulted {
			c.logger.Warn("gpio read failed", "error", err)
			c.faulted = true
		}
		return false, err
	}
	if c.faulted {
		c.logger.Info("gpio read recovered")
		c.faulted = false
	}
	return raw != c.cfg.Invert, nil
}

// Close releases the line.
func (c *Control) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.line == nil {
		return nil
	}
	err := c.line.Close()
	c.line = nil
	c.bound = false
	return err
}

// Counts returns the debounced transitions seen so far. EdgeNone controls
// bypass the engine and always report zero.
func (c *Control) Counts() logic.EdgeCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return logic.EdgeCounts{}
	}
	return c.engine.Counts()
}

// Key returns the normalised key.
func (c *Control) Key() string { return c.cfg.Key }

// Name returns the human label.
func (c *Control) Name() string { return c.cfg.Name }

// Edge returns the configured edge mode.
func (c *Control) Edge() EdgeMode { return c.cfg.Edge }

// Supported reports whether the line was bound.
func (c *Control) Supported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}

// Config returns the resolved configuration.
func (c *Control) Config() Config { return c.cfg }
