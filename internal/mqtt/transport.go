// Package mqtt implements bus.Transport on an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/pinbus/internal/bus"
)

// Defaults applied by Connect.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
	DefaultRetries        = 5
)

// Will is the last-will message the broker publishes if we vanish.
type Will struct {
	Topic   string
	Payload []byte
}

// Config holds broker connection settings.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Will           *Will
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	Retries        int // connect attempts after the first; 0 = none, negative = DefaultRetries
	Queue          int // per-subscription queue length
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "pinbus-" + uuid.NewString()[:8]
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.Retries < 0 {
		c.Retries = DefaultRetries
	}
	if c.Queue <= 0 {
		c.Queue = bus.DefaultQueueSize
	}
}

// Transport publishes and subscribes through a paho client. Broker
// subscriptions are shared between local subscribers with the same filter
// and dropped when the last of them unsubscribes.
type Transport struct {
	client paho.Client
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[*subscription]struct{}
	filters map[string]int
}

// Connect dials the broker, retrying with exponential backoff.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	cfg.applyDefaults()
	t := newTransport(nil, cfg, logger)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.logger.Warn("connection lost", "error", err)
		}).
		SetOnConnectHandler(func(_ paho.Client) {
			t.logger.Info("connected", "broker", cfg.Broker)
			go t.restore()
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.Will != nil && cfg.Will.Topic != "" {
		opts.SetBinaryWill(cfg.Will.Topic, cfg.Will.Payload, 1, false)
	}
	t.client = paho.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	attempt := 0
	op := func() error {
		attempt++
		token := t.client.Connect()
		if !token.WaitTimeout(cfg.ConnectTimeout) {
			return ErrTimeout
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		t.logger.Warn("connect failed, retrying", "attempt", attempt, "retry_in", next, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.Retries)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Broker, err)
	}
	return t, nil
}

// New wraps an existing client. The client should already be connected.
func New(client paho.Client, cfg Config, logger *slog.Logger) *Transport {
	cfg.applyDefaults()
	return newTransport(client, cfg, logger)
}

func newTransport(client paho.Client, cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{
		client:  client,
		cfg:     cfg,
		logger:  logger.With("component", "mqtt", "client_id", cfg.ClientID),
		subs:    make(map[*subscription]struct{}),
		filters: make(map[string]int),
	}
}

// Publish sends payload to topic at the configured QoS, not retained.
func (t *Transport) Publish(topic string, payload []byte) error {
	if topic == "" {
		return bus.ErrInvalidTopic
	}
	if !t.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := t.client.Publish(topic, t.cfg.QoS, false, payload)
	if !token.WaitTimeout(t.cfg.PublishTimeout) {
		return fmt.Errorf("%w: publish %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe registers a local subscriber. Filters nobody else holds are
// subscribed on the broker before returning.
func (t *Transport) Subscribe(_ context.Context, topics ...string) (bus.Subscription, error) {
	if len(topics) == 0 {
		return nil, bus.ErrNoTopics
	}
	for _, f := range topics {
		if f == "" {
			return nil, bus.ErrInvalidTopic
		}
	}

	s := &subscription{
		t:      t,
		topics: append([]string(nil), topics...),
		queue:  bus.NewQueue(t.cfg.Queue),
	}

	t.mu.Lock()
	var fresh []string
	for _, f := range s.topics {
		if t.filters[f] == 0 {
			fresh = append(fresh, f)
		}
		t.filters[f]++
	}
	t.subs[s] = struct{}{}
	t.mu.Unlock()

	if err := t.subscribe(fresh); err != nil {
		t.release(s)
		return nil, err
	}
	return s, nil
}

func (t *Transport) subscribe(filters []string) error {
	for _, f := range filters {
		token := t.client.Subscribe(f, t.cfg.QoS, t.handler(f))
		if !token.WaitTimeout(t.cfg.PublishTimeout) {
			return fmt.Errorf("%w: subscribe %s", ErrTimeout, f)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, f, err)
		}
		t.logger.Debug("subscribed", "filter", f)
	}
	return nil
}

// handler delivers broker messages for filter to local subscribers holding
// that filter. paho invokes every matching route, so a subscriber holding
// two overlapping filters is served only by the first of them it lists.
func (t *Transport) handler(filter string) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		msg := bus.Message{Topic: m.Topic(), Data: append([]byte(nil), m.Payload()...)}

		t.mu.Lock()
		defer t.mu.Unlock()
		for s := range t.subs {
			if s.owner(msg.Topic) != filter {
				continue
			}
			if dropped, first := s.queue.Deliver(msg); dropped && first {
				t.logger.Warn("subscriber queue full, dropping messages",
					"topic", msg.Topic, "queue", s.queue.Cap())
			}
		}
	}
}

// restore re-subscribes every live filter after a reconnect.
func (t *Transport) restore() {
	t.mu.Lock()
	filters := make([]string, 0, len(t.filters))
	for f := range t.filters {
		filters = append(filters, f)
	}
	t.mu.Unlock()

	if err := t.subscribe(filters); err != nil {
		t.logger.Error("restore subscriptions failed", "error", err)
	}
}

func (t *Transport) release(s *subscription) {
	t.mu.Lock()
	if _, ok := t.subs[s]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.subs, s)
	var stale []string
	for _, f := range s.topics {
		t.filters[f]--
		if t.filters[f] <= 0 {
			delete(t.filters, f)
			stale = append(stale, f)
		}
	}
	t.mu.Unlock()

	if len(stale) == 0 || !t.client.IsConnectionOpen() {
		return
	}
	token := t.client.Unsubscribe(stale...)
	if !token.WaitTimeout(t.cfg.PublishTimeout) {
		t.logger.Warn("unsubscribe timed out", "filters", stale)
		return
	}
	if err := token.Error(); err != nil {
		t.logger.Warn("unsubscribe failed", "filters", stale, "error", err)
	}
}

// IsConnected reports whether the broker link is up.
func (t *Transport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

// Close disconnects from the broker, waiting briefly for in-flight work.
func (t *Transport) Close() error {
	t.mu.Lock()
	subs := make([]*subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()
	for _, s := range subs {
		s.queue.Close()
	}
	t.client.Disconnect(250)
	return nil
}

type subscription struct {
	t      *Transport
	topics []string
	queue  *bus.Queue
}

// owner returns the first of the subscription's filters matching topic.
func (s *subscription) owner(topic string) string {
	for _, f := range s.topics {
		if bus.Match(f, topic) {
			return f
		}
	}
	return ""
}

func (s *subscription) Next(ctx context.Context) (bus.Message, error) {
	return s.queue.Next(ctx)
}

func (s *subscription) Unsubscribe() error {
	s.t.release(s)
	s.queue.Close()
	return nil
}
