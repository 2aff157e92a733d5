// Package memqueue provides the bounded in-memory submission queue between
// the HTTP boundary and the worker pool. Over-capacity submissions are
// rejected immediately; this is the service's backpressure boundary.
package memqueue

import (
	"fmt"
	"sync"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// Queue is a FIFO channel-backed queue with a fixed capacity.
type Queue struct {
	ch        chan domain.JobSpec
	closeOnce sync.Once
}

// New constructs a Queue with the given capacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan domain.JobSpec, capacity)}
}

// Enqueue adds spec or fails with ErrQueueFull when at capacity. It never
// blocks the submitter.
func (q *Queue) Enqueue(_ domain.Context, spec domain.JobSpec) error {
	select {
	case q.ch <- spec:
		return nil
	default:
		return fmt.Errorf("%w: capacity %d reached", domain.ErrQueueFull, cap(q.ch))
	}
}

// Dequeue blocks until a spec is available or ctx is cancelled.
func (q *Queue) Dequeue(ctx domain.Context) (domain.JobSpec, error) {
	select {
	case spec, ok := <-q.ch:
		if !ok {
			return domain.JobSpec{}, fmt.Errorf("%w: queue closed", domain.ErrInternal)
		}
		return spec, nil
	case <-ctx.Done():
		return domain.JobSpec{}, ctx.Err()
	}
}

// Len reports the number of queued specs.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops the queue; blocked Dequeues return.
func (q *Queue) Close() { q.closeOnce.Do(func() { close(q.ch) }) }
