package bus

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// DefaultQueueSize is the per-subscriber queue length of a Memory bus.
const DefaultQueueSize = 64

// Memory is an in-process Transport. Each subscriber has a bounded FIFO
// queue; when a subscriber falls behind, new messages for it are dropped
// (and logged once per backlog) rather than blocking producers.
type Memory struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	queue  int
	logger *slog.Logger
}

// NewMemory creates an in-process bus. A non-positive queue uses DefaultQueueSize.
func NewMemory(queue int, logger *slog.Logger) *Memory {
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Memory{
		subs:   make(map[*memorySub]struct{}),
		queue:  queue,
		logger: logger,
	}
}

// Publish delivers payload to every subscriber whose filters match topic.
func (m *Memory) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	msg := Message{Topic: topic, Data: append([]byte(nil), payload...)}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.subs {
		if s.matches(topic) {
			s.deliver(msg)
		}
	}
	return nil
}

// Subscribe registers a new subscriber for topics.
func (m *Memory) Subscribe(_ context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	for _, t := range topics {
		if t == "" {
			return nil, ErrInvalidTopic
		}
	}
	s := &memorySub{
		mem:    m,
		topics: append([]string(nil), topics...),
		queue:  NewQueue(m.queue),
	}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	return s, nil
}

// SubscriberCount returns the number of live subscriptions.
func (m *Memory) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

type memorySub struct {
	mem    *Memory
	topics []string
	queue  *Queue
}

func (s *memorySub) matches(topic string) bool {
	for _, f := range s.topics {
		if Match(f, topic) {
			return true
		}
	}
	return false
}

func (s *memorySub) deliver(msg Message) {
	if dropped, first := s.queue.Deliver(msg); dropped && first {
		s.mem.logger.Warn("bus: subscriber queue full, dropping messages",
			"topic", msg.Topic, "queue", s.queue.Cap())
	}
}

func (s *memorySub) Next(ctx context.Context) (Message, error) {
	return s.queue.Next(ctx)
}

func (s *memorySub) Unsubscribe() error {
	s.mem.mu.Lock()
	delete(s.mem.subs, s)
	s.mem.mu.Unlock()
	s.queue.Close()
	return nil
}
