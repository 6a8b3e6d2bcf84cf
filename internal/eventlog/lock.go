package eventlog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	leaderKey = "firehose:leader"
	// LeaderTTL is how long leadership survives without a refresh.
	LeaderTTL = 15 * time.Second
	// LeaderRefreshInterval keeps the lock comfortably inside its TTL.
	LeaderRefreshInterval = 5 * time.Second
)

// refreshScript extends the lock only if we still hold it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lock only if we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaderLock elects a single ingester among replicas via a short-TTL
// key. Holders must call Refresh more often than the TTL; a crashed
// holder's lock simply expires and a standby takes over.
type LeaderLock struct {
	rdb *redis.Client
	key string
	id  string
	ttl time.Duration
}

func NewLeaderLock(rdb *redis.Client) *LeaderLock {
	return &LeaderLock{
		rdb: rdb,
		key: leaderKey,
		id:  lockHolderID(),
		ttl: LeaderTTL,
	}
}

// TryAcquire attempts to take leadership. Returns false if another
// replica holds it.
func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.id, l.ttl).Result()
}

// Refresh extends leadership. Returns false if the lock was lost,
// which means another replica may already be ingesting; the caller
// must stop immediately.
func (l *LeaderLock) Refresh(ctx context.Context) (bool, error) {
	res, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.id, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release gives up leadership if still held.
func (l *LeaderLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.id).Err()
}

// HolderID identifies this replica in logs.
func (l *LeaderLock) HolderID() string {
	return l.id
}

func lockHolderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("%s-%s", host, hex.EncodeToString(buf))
}
