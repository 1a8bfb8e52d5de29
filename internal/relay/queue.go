// Package relay implements the bounded FIFO that decouples the paced
// producer from the transport sender. Admission never blocks: when the
// queue is full the chunk is dropped and counted, so a slow consumer can
// never stall the pacing clock.
package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zsiec/tscast/internal/media"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("relay: queue closed")

// Admission is the outcome of TryEnqueue.
type Admission int

// Admission results.
const (
	Accepted Admission = iota
	Dropped
	Closed
)

func (a Admission) String() string {
	switch a {
	case Accepted:
		return "accepted"
	case Dropped:
		return "dropped"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Capacity int    `json:"capacity"`
	Len      int    `json:"len"`
	Enqueued uint64 `json:"enqueued"`
	Dropped  uint64 `json:"dropped"`
	Dequeued uint64 `json:"dequeued"`
}

// Queue is a fixed-capacity ring buffer of chunks. It is safe for one or
// more producers and consumers.
type Queue struct {
	mu     sync.Mutex
	buf    []media.Chunk
	head   int
	size   int
	closed bool

	ready chan struct{}
	done  chan struct{}

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	dequeued atomic.Uint64
}

// NewQueue creates a Queue holding at most capacity chunks. A capacity
// below 1 is raised to 1.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		buf:   make([]media.Chunk, capacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// TryEnqueue appends c without blocking. It returns Dropped when the queue
// is full (c is discarded) and Closed after Close.
func (q *Queue) TryEnqueue(c media.Chunk) Admission {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Closed
	}
	if q.size == len(q.buf) {
		q.mu.Unlock()
		q.dropped.Add(1)
		return Dropped
	}
	q.buf[(q.head+q.size)%len(q.buf)] = c
	q.size++
	q.mu.Unlock()

	q.enqueued.Add(1)
	q.signal()
	return Accepted
}

// Dequeue removes and returns the oldest chunk, waiting until one is
// available. It returns ErrClosed once the queue is closed and empty, or
// the context error if ctx ends first.
func (q *Queue) Dequeue(ctx context.Context) (media.Chunk, error) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			c := q.buf[q.head]
			q.buf[q.head] = media.Chunk{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			more := q.size > 0
			q.mu.Unlock()

			q.dequeued.Add(1)
			if more {
				q.signal()
			}
			return c, nil
		}
		if q.closed {
			q.mu.Unlock()
			return media.Chunk{}, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return media.Chunk{}, ctx.Err()
		}
	}
}

// Close stops admission. Chunks already queued can still be dequeued;
// after they are drained Dequeue returns ErrClosed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Capacity: len(q.buf),
		Len:      q.Len(),
		Enqueued: q.enqueued.Load(),
		Dropped:  q.dropped.Load(),
		Dequeued: q.dequeued.Load(),
	}
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
