// Package cache owns the Redis key namespace for materialized read
// views and the invalidation of those keys. Writers (the event
// processor, the repair worker) invalidate through this package; the
// read layer builds its keys with the same helpers so the two sides
// can never drift apart.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// scanBatch bounds how many keys one SCAN iteration returns. Pattern
// deletes walk the keyspace incrementally instead of blocking Redis
// with a single KEYS call.
const scanBatch = 100

// Key builders for the cached view namespaces.
func PostKey(uri string) string            { return "post:" + uri }
func GateKey(postURI string) string        { return "gate:" + postURI }
func FollowingKey(did string) string       { return "user:following:" + did }
func ViewerBlocksKey(did string) string    { return "viewer:blocks:" + did }
func ViewerMutesKey(did string) string     { return "viewer:mutes:" + did }
func ListMembersKey(listURI string) string { return "list:members:" + listURI }

// ThreadPattern matches every cached rendering of the thread around a
// post, across viewers and pagination.
func ThreadPattern(postURI string) string { return "thread:" + postURI + ":*" }

// Invalidator deletes cached entries after the underlying records
// change. Implementations must tolerate keys that do not exist.
type Invalidator interface {
	Del(ctx context.Context, keys ...string) error
	DelPattern(ctx context.Context, pattern string) error
}

type redisInvalidator struct {
	rdb *redis.Client
}

// NewInvalidator returns an Invalidator backed by the given Redis client.
func NewInvalidator(rdb *redis.Client) Invalidator {
	return &redisInvalidator{rdb: rdb}
}

func (c *redisInvalidator) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting cache keys: %w", err)
	}
	return nil
}

func (c *redisInvalidator) DelPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scanning cache keys %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting cache keys %q: %w", pattern, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
