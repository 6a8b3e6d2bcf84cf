package identity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRequestQueue_LimitsConcurrency(t *testing.T) {
	q := newRequestQueue(2)

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Acquire(context.Background()); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer q.Release()

			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 2 {
		t.Errorf("expected at most 2 concurrent holders, saw %d", p)
	}
}

func TestRequestQueue_ServesWaitersInOrder(t *testing.T) {
	q := newRequestQueue(1)
	if err := q.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := q.Acquire(context.Background()); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			q.Release()
		}(i)

		// Let each waiter enqueue before starting the next so the
		// expected order is deterministic.
		waitForWaiters(t, q, i+1)
	}

	q.Release()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestRequestQueue_AcquireHonorsContext(t *testing.T) {
	q := newRequestQueue(1)
	if err := q.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Acquire(ctx); err == nil {
		t.Fatal("expected context error while queue is full")
	}

	// The abandoned waiter must not leak the slot.
	q.Release()
	if err := q.Acquire(context.Background()); err != nil {
		t.Fatalf("slot was lost after abandoned waiter: %v", err)
	}
}

func waitForWaiters(t *testing.T, q *requestQueue, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		waiting := len(q.waiters)
		q.mu.Unlock()
		if waiting >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued waiters", n)
}
