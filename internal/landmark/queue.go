// Package landmark carries hand-landmark frames from trackers into the
// pipeline.
//
// Trackers publish into a bounded [Queue] that never blocks the producer:
// when the consumer falls behind the oldest queued frame is discarded so the
// pipeline always works on the most recent motion. [Replay] feeds recorded
// JSON-lines sessions through the same queue.
package landmark

import (
	"sync"
	"sync/atomic"

	"github.com/androsja/Se-alyze/pkg/types"
)

// DefaultQueueSize is the queue capacity used when none is configured.
const DefaultQueueSize = 64

// Queue is a bounded drop-oldest frame queue with any number of producers
// and a single consumer. All methods are safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	ch     chan types.Frame
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewQueue returns a queue holding up to size frames. Size <= 0 means
// [DefaultQueueSize].
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan types.Frame, size)}
}

// Publish enqueues f without blocking. When the queue is full the oldest
// frame is discarded. It reports false when the queue is closed.
func (q *Queue) Publish(f types.Frame) bool {
	_, ok := q.Offer(f)
	return ok
}

// Offer is [Queue.Publish] that also reports how many queued frames were
// discarded to make room for f.
func (q *Queue) Offer(f types.Frame) (dropped int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, false
	}
	q.published.Add(1)
	for {
		select {
		case q.ch <- f:
			return dropped, true
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped++
		default:
			// Consumer drained it between the two selects; retry the send.
		}
	}
}

// Frames returns the consumer side. It is closed by [Queue.Close] after
// buffered frames have been received.
func (q *Queue) Frames() <-chan types.Frame { return q.ch }

// Len returns the number of buffered frames.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Published returns the number of frames accepted by Publish.
func (q *Queue) Published() int64 { return q.published.Load() }

// Dropped returns the number of frames discarded because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Close stops accepting frames and closes the channel. Safe to call more
// than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
