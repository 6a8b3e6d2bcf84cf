package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusKey = "firehose:status"
	// statusTTL makes a dead ingester visible fast: the key simply
	// disappears and standby replicas promote.
	statusTTL = 10 * time.Second

	cursorKey = "firehose:cursor"
	// cursorTTL bounds how old a resumed cursor can be. Relays do not
	// retain unbounded history; resubscribing with an ancient cursor
	// is worse than starting live.
	cursorTTL = time.Hour
)

// Status is the ingester heartbeat published for workers and the
// status endpoint.
type Status struct {
	Connected     bool      `json:"connected"`
	URL           string    `json:"url"`
	CurrentCursor int64     `json:"currentCursor"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// StatusStore reads and writes the shared ingester status and cursor.
type StatusStore struct {
	rdb *redis.Client
}

func NewStatusStore(rdb *redis.Client) *StatusStore {
	return &StatusStore{rdb: rdb}
}

// Write publishes the current status with a short TTL.
func (s *StatusStore) Write(ctx context.Context, status Status) error {
	status.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	return s.rdb.Set(ctx, statusKey, payload, statusTTL).Err()
}

// Read returns the last published status, or nil if it has expired.
func (s *StatusStore) Read(ctx context.Context) (*Status, error) {
	payload, err := s.rdb.Get(ctx, statusKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("unmarshaling status: %w", err)
	}
	return &status, nil
}

// SaveCursor persists the last pushed relay sequence for resume.
func (s *StatusStore) SaveCursor(ctx context.Context, seq int64) error {
	return s.rdb.Set(ctx, cursorKey, strconv.FormatInt(seq, 10), cursorTTL).Err()
}

// LoadCursor returns the saved cursor and whether one exists.
func (s *StatusStore) LoadCursor(ctx context.Context) (int64, bool, error) {
	raw, err := s.rdb.Get(ctx, cursorKey).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cursor %q: %w", raw, err)
	}
	return seq, true, nil
}
