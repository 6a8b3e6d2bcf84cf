package identity

import (
	"context"
	"sync"
)

// requestQueue caps concurrent outbound resolutions. Waiters are served
// in submission order so a burst of lookups cannot starve earlier ones.
type requestQueue struct {
	mu      sync.Mutex
	slots   int
	waiters []chan struct{}
}

func newRequestQueue(maxConcurrent int) *requestQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &requestQueue{slots: maxConcurrent}
}

// Acquire blocks until a slot is free or ctx is done.
func (q *requestQueue) Acquire(ctx context.Context) error {
	q.mu.Lock()
	if q.slots > 0 && len(q.waiters) == 0 {
		q.slots--
		q.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	q.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		q.abandon(ready)
		return ctx.Err()
	}
}

// Release frees a slot, handing it to the oldest waiter if any.
func (q *requestQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) > 0 {
		ready := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(ready)
		return
	}
	q.slots++
}

// abandon removes a waiter that gave up. If the slot was already handed
// over, pass it on so it is not lost.
func (q *requestQueue) abandon(ready chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiters {
		if w == ready {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}

	select {
	case <-ready:
		if len(q.waiters) > 0 {
			next := q.waiters[0]
			q.waiters = q.waiters[1:]
			close(next)
		} else {
			q.slots++
		}
	default:
	}
}
