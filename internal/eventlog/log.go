package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event kinds stored in the "type" field of each stream entry.
const (
	KindCommit   = "commit"
	KindIdentity = "identity"
	KindAccount  = "account"
)

const (
	// DefaultStream is the Redis stream holding firehose events.
	DefaultStream = "events:log"
	// DefaultGroup is the consumer group processors read through.
	DefaultGroup = "firehose-processors"
	// DefaultMaxLen caps the stream; trimming is approximate so XADD
	// stays O(1).
	DefaultMaxLen = 100_000

	// consumeBlock is how long a consume call waits for new entries
	// before returning empty. Short enough that shutdown stays snappy.
	consumeBlock = 100 * time.Millisecond

	groupLockKey = "firehose:group-init-lock"
	groupLockTTL = 10 * time.Second
)

// Message is one entry handed to a worker. ID is the stream entry id
// used for acks; Seq is the relay sequence carried in the payload.
type Message struct {
	ID   string
	Kind string
	Seq  int64
	Data []byte
}

// Log is the durable event log between the firehose ingester and the
// processing workers: an append-only capped stream with consumer-group
// delivery, per-message acks, and claim of abandoned messages.
type Log interface {
	// Push appends an event, trimming the stream to its cap.
	Push(ctx context.Context, kind string, seq int64, data []byte) error

	// Consume assigns up to count pending entries to consumerID,
	// blocking briefly when the stream is idle. Returns no error when
	// there is simply nothing to read.
	Consume(ctx context.Context, consumerID string, count int64) ([]Message, error)

	// Ack marks entries done. Call only after downstream writes have
	// committed; an unacked entry is redelivered via ClaimPending.
	Ack(ctx context.Context, ids ...string) error

	// ClaimPending steals entries whose previous consumer has not
	// acked within minIdle. Dead-worker recovery.
	ClaimPending(ctx context.Context, consumerID string, minIdle time.Duration, count int64) ([]Message, error)

	// Depth returns the stream length.
	Depth(ctx context.Context) (int64, error)
}

type redisLog struct {
	rdb    *redis.Client
	stream string
	group  string
	maxLen int64
}

// New returns a Redis Streams backed Log and ensures the consumer
// group exists.
func New(ctx context.Context, rdb *redis.Client, stream, group string, maxLen int64) (Log, error) {
	if stream == "" {
		stream = DefaultStream
	}
	if group == "" {
		group = DefaultGroup
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	l := &redisLog{rdb: rdb, stream: stream, group: group, maxLen: maxLen}
	if err := l.ensureGroup(ctx); err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}
	return l, nil
}

func (l *redisLog) Push(ctx context.Context, kind string, seq int64, data []byte) error {
	return l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": kind,
			"data": data,
			"seq":  strconv.FormatInt(seq, 10),
		},
	}).Err()
}

func (l *redisLog) Consume(ctx context.Context, consumerID string, count int64) ([]Message, error) {
	res, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: consumerID,
		Streams:  []string{l.stream, ">"},
		Count:    count,
		Block:    consumeBlock,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if isNoGroup(err) {
			// Stream or group lost (flushed Redis, migration). One
			// worker recreates it; the rest see it appear.
			if rerr := l.recreateGroup(ctx); rerr != nil {
				return nil, rerr
			}
			return nil, nil
		}
		return nil, err
	}

	var messages []Message
	for _, stream := range res {
		for _, xmsg := range stream.Messages {
			messages = append(messages, parseMessage(xmsg))
		}
	}
	return messages, nil
}

func (l *redisLog) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return l.rdb.XAck(ctx, l.stream, l.group, ids...).Err()
}

func (l *redisLog) ClaimPending(ctx context.Context, consumerID string, minIdle time.Duration, count int64) ([]Message, error) {
	claimed, _, err := l.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   l.stream,
		Group:    l.group,
		Consumer: consumerID,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if isNoGroup(err) {
			return nil, nil
		}
		return nil, err
	}

	messages := make([]Message, 0, len(claimed))
	for _, xmsg := range claimed {
		messages = append(messages, parseMessage(xmsg))
	}
	return messages, nil
}

func (l *redisLog) Depth(ctx context.Context) (int64, error) {
	return l.rdb.XLen(ctx, l.stream).Result()
}

// ensureGroup creates the consumer group from the start of the stream,
// creating the stream too if it does not exist yet.
func (l *redisLog) ensureGroup(ctx context.Context) error {
	err := l.rdb.XGroupCreateMkStream(ctx, l.stream, l.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// recreateGroup rebuilds a lost consumer group under a short-TTL lock
// so a fleet of workers does not stampede the recreate.
func (l *redisLog) recreateGroup(ctx context.Context) error {
	acquired, err := l.rdb.SetNX(ctx, groupLockKey, "1", groupLockTTL).Result()
	if err != nil {
		return err
	}
	if !acquired {
		// Another worker is recreating; the next consume will find it.
		return nil
	}
	defer l.rdb.Del(ctx, groupLockKey)

	slog.Warn("consumer group missing, recreating", "stream", l.stream, "group", l.group)
	return l.ensureGroup(ctx)
}

func parseMessage(xmsg redis.XMessage) Message {
	msg := Message{ID: xmsg.ID}
	if kind, ok := xmsg.Values["type"].(string); ok {
		msg.Kind = kind
	}
	if data, ok := xmsg.Values["data"].(string); ok {
		msg.Data = []byte(data)
	}
	if seq, ok := xmsg.Values["seq"].(string); ok {
		msg.Seq, _ = strconv.ParseInt(seq, 10, 64)
	}
	return msg
}

func isNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}
