// Command pinbus polls GPIO inputs, publishes debounced control updates to a
// message bus, and runs configured actions in reaction to bus messages.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/pinbus/internal/action"
	"github.com/sweeney/pinbus/internal/bus"
	"github.com/sweeney/pinbus/internal/config"
	"github.com/sweeney/pinbus/internal/control"
	"github.com/sweeney/pinbus/internal/gpio"
	"github.com/sweeney/pinbus/internal/logging"
	"github.com/sweeney/pinbus/internal/metrics"
	"github.com/sweeney/pinbus/internal/mqtt"
	"github.com/sweeney/pinbus/internal/status"
	"github.com/sweeney/pinbus/internal/web"
)

func main() {
	configPath := flag.String("config", "/etc/pinbus/pinbus.yaml", "Configuration file")
	envFile := flag.String("env-file", config.DefaultEnvFile, "Environment file loaded before the config (missing is ignored)")
	printState := flag.Bool("print-state", false, "Print current control levels and exit")
	trigger := flag.String("trigger", "", "Trigger the named action once and exit")
	value := flag.String("value", "", "JSON value passed with -trigger (omit for none)")

	flag.Parse()

	opts := options{
		configPath: *configPath,
		envFile:    *envFile,
		printState: *printState,
		trigger:    *trigger,
		value:      *value,
	}
	if err := run(opts); err != nil {
		logging.Default().Error("fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	envFile    string
	printState bool
	trigger    string
	value      string
}

func run(opts options) error {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, cfg.Node.Name, nil)

	provider := gpio.Detect()
	defer provider.Close()

	controls, err := buildControls(cfg, provider, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range controls {
			c.Close()
		}
	}()

	if opts.printState {
		printControls(os.Stdout, controls)
		return nil
	}

	ctx := context.Background()
	base, connected, closeBus, err := openBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	m := metrics.New()
	transport := m.Instrument(base)

	tracker := status.NewTracker(cfg.Node.Name, time.Now(), status.Config{
		PollMs:      cfg.Poll.D().Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.D().Milliseconds(),
		BusType:     cfg.Bus.Type,
		Broker:      brokerOf(cfg),
		Topic:       cfg.Bus.Topic,
		HTTPAddr:    cfg.HTTP,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	for _, c := range controls {
		tracker.AddControl(c)
	}

	dispatcher, err := buildDispatcher(cfg, transport, action.Observers{tracker, m}, logger)
	if err != nil {
		return err
	}
	for _, a := range dispatcher.Actions() {
		tracker.AddAction(a.Key(), a.Name(), a.Type().String())
	}

	if opts.trigger != "" {
		v, err := parseValue(opts.value)
		if err != nil {
			return err
		}
		return dispatcher.Trigger(ctx, opts.trigger, v)
	}

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP)
	}

	observer := control.Observers{tracker, m}
	workers := make([]*control.Worker, 0, len(controls))
	for _, c := range controls {
		workers = append(workers, control.NewWorker(c, transport, control.WorkerConfig{
			Topic:    cfg.Bus.Topic,
			Poll:     cfg.Poll.D(),
			Observer: observer,
			Logger:   logger,
		}))
	}

	d := &daemon{
		transport:  transport,
		system:     cfg.Bus.SystemTopic(),
		tracker:    tracker,
		connected:  connected,
		workers:    workers,
		dispatcher: dispatcher,
		logger:     logger,
	}

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		ticker := time.NewTicker(cfg.Heartbeat.D())
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("started",
		"controls", len(controls), "actions", len(dispatcher.Actions()),
		"poll", cfg.Poll.D(), "bus", cfg.Bus.Type, "topic", cfg.Bus.Topic, "heartbeat", cfg.Heartbeat.D())

	return d.run(ctx, sigCh, heartbeat)
}

func buildControls(cfg *config.Config, provider gpio.Provider, logger *slog.Logger) ([]*control.Control, error) {
	configs, err := cfg.ControlConfigs()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	controls := make([]*control.Control, 0, len(configs))
	for i, cc := range configs {
		c, err := control.New(cc, logger)
		if err != nil {
			return nil, fmt.Errorf("control[%d] %q: %w", i, cc.Key, err)
		}
		if err := c.Init(provider, now); err != nil {
			return nil, fmt.Errorf("control[%d] %q: %w", i, cc.Key, err)
		}
		controls = append(controls, c)
	}
	return controls, nil
}

func buildDispatcher(cfg *config.Config, t bus.Transport, observer action.Observer, logger *slog.Logger) (*action.Dispatcher, error) {
	configs, err := cfg.ActionConfigs()
	if err != nil {
		return nil, err
	}
	actions := make([]*action.Action, 0, len(configs))
	for i, ac := range configs {
		a, err := action.New(ac, t, action.ExecRunner{}, logger)
		if err != nil {
			return nil, fmt.Errorf("action[%d] %q: %w", i, ac.Key, err)
		}
		actions = append(actions, a)
	}
	return action.NewDispatcher(t, actions, cfg.RouteList(), observer, logger)
}

// openBus returns the configured transport, a connection check and a closer.
func openBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (bus.Transport, func() bool, func(), error) {
	if cfg.Bus.Type == config.BusMemory {
		mem := bus.NewMemory(cfg.Bus.Queue, logger)
		return mem, func() bool { return true }, func() {}, nil
	}

	mc := cfg.Bus.MQTT()
	mc.Will = &mqtt.Will{Topic: cfg.Bus.SystemTopic(), Payload: status.OfflinePayload(cfg.Node.Name)}
	t, err := mqtt.Connect(ctx, mc, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return t, t.IsConnected, func() { t.Close() }, nil
}

func brokerOf(cfg *config.Config) string {
	if cfg.Bus.Type == config.BusMemory {
		return ""
	}
	return cfg.Bus.Broker
}

func printControls(w io.Writer, controls []*control.Control) {
	for _, c := range controls {
		fmt.Fprintf(w, "%s (%s): %s\n", c.Key(), c.Config().Pin.Name, c.Level())
	}
}

// parseValue decodes a -value argument. Text that is not JSON is taken as
// a plain string; empty means no value.
func parseValue(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s, nil
	}
	if v == nil {
		return nil, errors.New("-value null is indistinguishable from no value; omit -value instead")
	}
	return v, nil
}

// daemon owns the long-running part of the process: one worker per control,
// the dispatcher, and lifecycle system events.
type daemon struct {
	transport  bus.Transport
	system     string
	tracker    *status.Tracker
	connected  func() bool
	workers    []*control.Worker
	dispatcher *action.Dispatcher
	logger     *slog.Logger
}

// run blocks until a signal arrives or the dispatcher receives the shutdown
// message. Heartbeat ticks publish a status snapshot.
func (d *daemon) run(parent context.Context, sig <-chan os.Signal, heartbeat <-chan time.Time) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(w *control.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	// A dispatcher without routes returns at once; only watch it when it
	// actually listens.
	var dispatched chan error
	if d.dispatcher != nil && len(d.dispatcher.Topics()) > 0 {
		dispatched = make(chan error, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatched <- d.dispatcher.Run(ctx)
		}()
	}

	d.publishSystem(status.EventStartup, "")

	stop := func(reason string) {
		d.logger.Info("shutting down", "reason", reason)
		d.publishSystem(status.EventShutdown, reason)
		cancel()
		wg.Wait()
	}

	for {
		select {
		case s := <-sig:
			stop(signalName(s))
			return nil

		case err := <-dispatched:
			if err != nil {
				d.logger.Error("dispatcher stopped", "error", err)
				stop("DISPATCHER_ERROR")
				return err
			}
			stop(bus.ShutdownKey)
			return nil

		case <-heartbeat:
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			d.publishSystem(status.EventHeartbeat, "")
		}
	}
}

func (d *daemon) publishSystem(event, reason string) {
	if d.connected != nil {
		d.tracker.SetBusConnected(d.connected())
	}
	payload := status.FormatStatusEvent(d.tracker.Snapshot(), event, reason)
	if err := d.transport.Publish(d.system, payload); err != nil {
		d.logger.Warn("failed to publish system event", "event", event, "error", err)
		return
	}
	d.logger.Info("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
