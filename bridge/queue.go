package bridge

import (
	"context"
	"errors"
	"sync"
)

// Queue defaults
const (
	// DefaultQueueCapacity is the number of buffers a queue holds before
	// producers block.
	DefaultQueueCapacity = 8

	// DefaultBufferSize is the largest buffer the outbound task produces.
	DefaultBufferSize = 512
)

// ErrChannelClosed is returned by Send and Receive once the queue is closed.
// For a bridge task it means the device is being torn down.
var ErrChannelClosed = errors.New("channel closed")

// Queue is a bounded FIFO of byte buffers shared by any number of producers
// and consumers. Send blocks while the queue is full; nothing is dropped
// while the queue is open.
type Queue struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

// NewQueue creates a queue holding at most capacity buffers.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// Send enqueues buf, waiting for space.
func (q *Queue) Send(ctx context.Context, buf []byte) error {
	select {
	case <-q.done:
		return ErrChannelClosed
	default:
	}

	select {
	case q.ch <- buf:
		return nil
	case <-q.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive dequeues the oldest buffer, waiting while the queue is empty.
func (q *Queue) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-q.done:
		return nil, ErrChannelClosed
	default:
	}

	select {
	case buf := <-q.ch:
		return buf, nil
	case <-q.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of buffers waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close wakes every blocked Send and Receive. Buffers still queued are
// discarded with the queue.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
}
