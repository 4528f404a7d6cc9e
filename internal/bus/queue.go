package bus

import (
	"context"
	"sync"
)

// Queue is the bounded per-subscriber FIFO shared by Transport
// implementations. Deliver never blocks; Next blocks until a message,
// Close, or ctx.
type Queue struct {
	ch   chan Message
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	dropping bool
}

// NewQueue creates a queue holding up to size messages.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:   make(chan Message, size),
		done: make(chan struct{}),
	}
}

// Deliver enqueues msg. It returns dropped=true when the queue was full, and
// first=true when this is the first drop since the queue last accepted a message.
func (q *Queue) Deliver(msg Message) (dropped, first bool) {
	select {
	case <-q.done:
		return false, false
	default:
	}
	select {
	case q.ch <- msg:
		q.mu.Lock()
		q.dropping = false
		q.mu.Unlock()
		return false, false
	default:
		q.mu.Lock()
		first = !q.dropping
		q.dropping = true
		q.mu.Unlock()
		return true, first
	}
}

// Next blocks for the next message. Messages still queued when Close is
// called are discarded.
func (q *Queue) Next(ctx context.Context) (Message, error) {
	select {
	case <-q.done:
		return Message{}, ErrUnsubscribed
	default:
	}
	select {
	case <-q.done:
		return Message{}, ErrUnsubscribed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case msg := <-q.ch:
		return msg, nil
	}
}

// Close interrupts Next. It reports whether this call closed the queue.
func (q *Queue) Close() bool {
	closed := false
	q.once.Do(func() {
		close(q.done)
		closed = true
	})
	return closed
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
