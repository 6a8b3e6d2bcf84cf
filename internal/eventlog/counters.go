package eventlog

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CountersKey is the shared hash holding cluster-wide event totals.
const CountersKey = "cluster:metrics"

// Counter field names in the shared hash.
const (
	CounterTotal    = "totalEvents"
	CounterCommit   = "#commit"
	CounterIdentity = "#identity"
	CounterAccount  = "#account"
	CounterErrors   = "errors"
)

const counterFlushInterval = 500 * time.Millisecond

// Counters buffers per-kind event counts locally and flushes them to a
// shared Redis hash with atomic increments. Workers on every replica
// write through this; dashboards read the hash for cluster totals.
type Counters struct {
	rdb *redis.Client

	mu  sync.Mutex
	buf map[string]int64

	stop chan struct{}
	done chan struct{}
}

func NewCounters(rdb *redis.Client) *Counters {
	return &Counters{
		rdb:  rdb,
		buf:  make(map[string]int64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (c *Counters) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(counterFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush()
			case <-c.stop:
				c.flush()
				return
			}
		}
	}()
}

// Stop flushes remaining counts and stops the loop.
func (c *Counters) Stop() {
	close(c.stop)
	<-c.done
}

// IncEvent counts one processed event of the given kind.
func (c *Counters) IncEvent(kind string) {
	c.mu.Lock()
	c.buf[CounterTotal]++
	switch kind {
	case KindCommit:
		c.buf[CounterCommit]++
	case KindIdentity:
		c.buf[CounterIdentity]++
	case KindAccount:
		c.buf[CounterAccount]++
	}
	c.mu.Unlock()
}

// IncError counts one processing failure.
func (c *Counters) IncError() {
	c.mu.Lock()
	c.buf[CounterErrors]++
	c.mu.Unlock()
}

// Snapshot reads the cluster-wide totals from the shared hash.
func (c *Counters) Snapshot(ctx context.Context) (map[string]int64, error) {
	fields, err := c.rdb.HGetAll(ctx, CountersKey).Result()
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64, len(fields))
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		totals[field] = n
	}
	return totals, nil
}

func (c *Counters) flush() {
	c.mu.Lock()
	if len(c.buf) == 0 {
		c.mu.Unlock()
		return
	}
	pending := c.buf
	c.buf = make(map[string]int64)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := c.rdb.Pipeline()
	for field, delta := range pending {
		pipe.HIncrBy(ctx, CountersKey, field, delta)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("failed to flush event counters", "error", err)
		// Put the counts back so they are not lost.
		c.mu.Lock()
		for field, delta := range pending {
			c.buf[field] += delta
		}
		c.mu.Unlock()
	}
}
