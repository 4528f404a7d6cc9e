// Package config loads the pinbus YAML configuration.
//
// Loading order is defaults, then the YAML file, then environment overrides,
// then validation. Controls, actions and routes are checked in full at load
// time so a bad pin or an unknown action aborts startup with a message naming
// the offending entry.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/pinbus/internal/action"
	"github.com/sweeney/pinbus/internal/bus"
	"github.com/sweeney/pinbus/internal/control"
	"github.com/sweeney/pinbus/internal/gpio"
	"github.com/sweeney/pinbus/internal/logic"
	"github.com/sweeney/pinbus/internal/mqtt"
)

// Bus types.
const (
	BusMQTT   = "mqtt"
	BusMemory = "memory"
)

// Environment overrides.
const (
	EnvBroker       = "PINBUS_BROKER"
	EnvLogLevel     = "PINBUS_LOG_LEVEL"
	EnvHTTP         = "PINBUS_HTTP"
	EnvMQTTUsername = "PINBUS_MQTT_USERNAME"
	EnvMQTTPassword = "PINBUS_MQTT_PASSWORD"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration document.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Poll      Duration        `yaml:"poll"`
	Heartbeat Duration        `yaml:"heartbeat"`
	HTTP      string          `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bus       BusConfig       `yaml:"bus"`
	Controls  []ControlConfig `yaml:"controls"`
	Actions   []ActionConfig  `yaml:"actions"`
	Routes    []RouteConfig   `yaml:"routes"`
}

// NodeConfig identifies this node in logs and status payloads.
type NodeConfig struct {
	Name string `yaml:"name"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// BusConfig selects and configures the transport.
type BusConfig struct {
	Type     string `yaml:"type"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Topic is where controls publish updates. System events go to Topic/system.
	Topic   string `yaml:"topic"`
	QoS     int    `yaml:"qos"`
	Queue   int    `yaml:"queue"`
	Retries int    `yaml:"retries"`
}

// ControlConfig is one digital input.
type ControlConfig struct {
	Key      string   `yaml:"key"`
	Name     string   `yaml:"name"`
	Pin      string   `yaml:"pin"`
	Bias     string   `yaml:"bias"`
	Edge     string   `yaml:"edge"`
	Debounce Duration `yaml:"debounce"`
	Invert   bool     `yaml:"invert"`
}

// ActionConfig is one triggerable action.
type ActionConfig struct {
	Key     string   `yaml:"key"`
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Action  any      `yaml:"action"`
	Topic   string   `yaml:"topic"`
	Shell   bool     `yaml:"shell"`
	Timeout Duration `yaml:"timeout"`
}

// RouteConfig binds a bus topic to actions.
type RouteConfig struct {
	Topic   string   `yaml:"topic"`
	Event   string   `yaml:"event"`
	Key     string   `yaml:"key"`
	Actions []string `yaml:"actions"`
}

// Duration accepts Go duration strings ("50ms") or plain numbers of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	s := strings.TrimSpace(n.Value)
	if s == "" {
		*d = 0
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(f * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Default returns a configuration with every default applied and no inputs.
func Default() *Config {
	return &Config{
		Node:      NodeConfig{Name: hostname()},
		Poll:      Duration(control.DefaultPoll),
		Heartbeat: Duration(15 * time.Minute),
		HTTP:      ":8080",
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Bus: BusConfig{
			Type:    BusMQTT,
			Broker:  "tcp://localhost:1883",
			Topic:   bus.DefaultTopic,
			Queue:   bus.DefaultQueueSize,
			Retries: mqtt.DefaultRetries,
		},
	}
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvBroker); v != "" {
		cfg.Bus.Broker = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvHTTP); ok {
		// Set but empty disables the status server
		cfg.HTTP = v
	}
	if v := os.Getenv(EnvMQTTUsername); v != "" {
		cfg.Bus.Username = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		cfg.Bus.Password = v
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Poll <= 0 {
		errs = append(errs, "poll must be positive")
	}
	if c.Heartbeat < 0 {
		errs = append(errs, "heartbeat must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	switch c.Bus.Type {
	case BusMQTT:
		if c.Bus.Broker == "" {
			errs = append(errs, "bus.broker is required for mqtt")
		}
	case BusMemory:
	default:
		errs = append(errs, fmt.Sprintf("bus.type %q must be mqtt or memory", c.Bus.Type))
	}
	if c.Bus.Topic == "" {
		errs = append(errs, "bus.topic is required")
	}
	if c.Bus.QoS < 0 || c.Bus.QoS > 2 {
		errs = append(errs, "bus.qos must be 0, 1, or 2")
	}

	seen := make(map[string]string)
	for i, cc := range c.Controls {
		label := fmt.Sprintf("control[%d] %q", i, cc.Key)
		cfg, err := cc.Control()
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		if prev, dup := seen[cfg.Key]; dup {
			errs = append(errs, fmt.Sprintf("%s: key %q already used by %s", label, cfg.Key, prev))
			continue
		}
		seen[cfg.Key] = label
	}

	actions := make(map[string]bool)
	for i, ac := range c.Actions {
		label := fmt.Sprintf("action[%d] %q", i, ac.Key)
		cfg, err := ac.ToAction()
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		if actions[cfg.Key] {
			errs = append(errs, fmt.Sprintf("%s: duplicate action key %q", label, cfg.Key))
			continue
		}
		actions[cfg.Key] = true
	}

	for i, rc := range c.Routes {
		label := fmt.Sprintf("route[%d] %q", i, rc.Topic)
		if rc.Topic == "" {
			errs = append(errs, label+": topic is required")
		}
		if len(rc.Actions) == 0 {
			errs = append(errs, label+": at least one action is required")
		}
		for _, k := range rc.Actions {
			if !actions[logic.NormalizeKey(k)] {
				errs = append(errs, fmt.Sprintf("%s: unknown action %q", label, k))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Control resolves the entry into a control.Config.
func (c ControlConfig) Control() (control.Config, error) {
	key := logic.NormalizeKey(c.Key)
	if key == "" {
		return control.Config{}, control.ErrMissingKey
	}
	if c.Pin == "" {
		return control.Config{}, errors.New("pin is required")
	}
	pin, err := gpio.ParsePin(c.Pin)
	if err != nil {
		return control.Config{}, err
	}
	bias, err := gpio.ParseBias(c.Bias)
	if err != nil {
		return control.Config{}, err
	}
	edge, err := control.ParseEdgeMode(c.Edge)
	if err != nil {
		return control.Config{}, err
	}
	if c.Debounce < 0 {
		return control.Config{}, errors.New("debounce must not be negative")
	}
	return control.Config{
		Key:      key,
		Name:     c.Name,
		Pin:      pin,
		Bias:     bias,
		Edge:     edge,
		Debounce: c.Debounce.D(),
		Invert:   c.Invert,
	}, nil
}

// ToAction resolves the entry into an action.Config.
func (a ActionConfig) ToAction() (action.Config, error) {
	key := logic.NormalizeKey(a.Key)
	if key == "" {
		return action.Config{}, action.ErrMissingKey
	}
	typ, err := action.ParseType(a.Type)
	if err != nil {
		return action.Config{}, err
	}
	if a.Action == nil {
		return action.Config{}, action.ErrMissingAction
	}
	if typ == action.TypeCommand {
		if _, ok := a.Action.(string); !ok {
			return action.Config{}, fmt.Errorf("%w: command must be a string", action.ErrMissingAction)
		}
	}
	if a.Timeout < 0 {
		return action.Config{}, errors.New("timeout must not be negative")
	}
	return action.Config{
		Key:     key,
		Name:    a.Name,
		Type:    typ,
		Action:  a.Action,
		Topic:   a.Topic,
		Shell:   a.Shell,
		Timeout: a.Timeout.D(),
	}, nil
}

// Route converts the entry into an action.Route.
func (r RouteConfig) Route() action.Route {
	return action.Route{Topic: r.Topic, Event: r.Event, Key: r.Key, Actions: r.Actions}
}

// ControlConfigs resolves every control. Call after Validate.
func (c *Config) ControlConfigs() ([]control.Config, error) {
	out := make([]control.Config, 0, len(c.Controls))
	for i, cc := range c.Controls {
		cfg, err := cc.Control()
		if err != nil {
			return nil, fmt.Errorf("control[%d] %q: %w", i, cc.Key, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// ActionConfigs resolves every action. Call after Validate.
func (c *Config) ActionConfigs() ([]action.Config, error) {
	out := make([]action.Config, 0, len(c.Actions))
	for i, ac := range c.Actions {
		cfg, err := ac.ToAction()
		if err != nil {
			return nil, fmt.Errorf("action[%d] %q: %w", i, ac.Key, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// RouteList converts every route.
func (c *Config) RouteList() []action.Route {
	out := make([]action.Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		out = append(out, rc.Route())
	}
	return out
}

// SystemTopic is where lifecycle events are published.
func (b BusConfig) SystemTopic() string {
	return b.Topic + "/system"
}

// MQTT converts the bus section into transport settings.
func (b BusConfig) MQTT() mqtt.Config {
	return mqtt.Config{
		Broker:   b.Broker,
		ClientID: b.ClientID,
		Username: b.Username,
		Password: b.Password,
		QoS:      byte(b.QoS),
		Retries:  b.Retries,
		Queue:    b.Queue,
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "pinbus"
	}
	return h
}
