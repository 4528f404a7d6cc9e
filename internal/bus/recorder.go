package bus

import (
	"context"
	"sync"
)

// Recorder is a Transport test double that records every publish and then
// forwards it to an in-process Memory bus so subscribers still work.
type Recorder struct {
	*Memory

	mu        sync.Mutex
	published []Message

	// PublishError, if set, will be returned by Publish (nothing is recorded).
	PublishError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error
}

// NewRecorder creates a Recorder backed by a fresh Memory bus.
func NewRecorder() *Recorder {
	return &Recorder{Memory: NewMemory(0, nil)}
}

// Publish records the message and forwards it.
func (r *Recorder) Publish(topic string, payload []byte) error {
	r.mu.Lock()
	if r.PublishError != nil {
		err := r.PublishError
		r.mu.Unlock()
		return err
	}
	r.published = append(r.published, Message{Topic: topic, Data: append([]byte(nil), payload...)})
	r.mu.Unlock()
	return r.Memory.Publish(topic, payload)
}

// Subscribe forwards to the Memory bus unless SubscribeError is set.
func (r *Recorder) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	r.mu.Lock()
	err := r.SubscribeError
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Memory.Subscribe(ctx, topics...)
}

// SetPublishError sets PublishError under the lock.
func (r *Recorder) SetPublishError(err error) {
	r.mu.Lock()
	r.PublishError = err
	r.mu.Unlock()
}

// Published returns a copy of all recorded messages.
func (r *Recorder) Published() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.published...)
}

// PublishedTo returns the recorded messages for one topic.
func (r *Recorder) PublishedTo(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Reset clears recorded messages and errors.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.published = nil
	r.PublishError = nil
	r.SubscribeError = nil
	r.mu.Unlock()
}
