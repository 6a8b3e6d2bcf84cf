package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	collectionFollow = "app.bsky.graph.follow"

	defaultCooldown      = time.Hour
	defaultBatchSize     = 5
	defaultBatchDelay    = 2 * time.Second
	defaultMaxConcurrent = 2
	defaultPageSize      = 100

	// progressInterval paces backfill progress logging.
	progressInterval = 1000
)

// ErrBackfillDisabled is returned by Start when the day window is zero.
var ErrBackfillDisabled = errors.New("backfill is disabled")

// ErrUnrepairable is returned for DIDs the repair pipeline cannot serve.
var ErrUnrepairable = errors.New("account cannot be backfilled")

// BackfillConfig throttles user-initiated imports so a popular account's
// follow graph does not starve the live pipeline.
type BackfillConfig struct {
	// Days bounds how far back follows are imported: -1 means the full
	// history, 0 disables backfill entirely, positive values keep only
	// follows created within that many days.
	Days          int
	Cooldown      time.Duration
	BatchSize     int
	BatchDelay    time.Duration
	MaxConcurrent int
	PageSize      int
}

func (c BackfillConfig) withDefaults() BackfillConfig {
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = defaultBatchDelay
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	return c
}

// Backfiller imports a user's follow graph from their PDS on demand.
// The follows go through the same processor path as firehose commits;
// the targets' profiles are then fetched through the repair worker.
type Backfiller struct {
	cfg    BackfillConfig
	worker *Worker
	rdb    *redis.Client
}

func NewBackfiller(cfg BackfillConfig, worker *Worker, rdb *redis.Client) *Backfiller {
	return &Backfiller{cfg: cfg.withDefaults(), worker: worker, rdb: rdb}
}

func cooldownKey(did string) string {
	return "backfill:cooldown:" + did
}

// Start begins a backfill for the DID in the background. It reports
// false with a nil error when the DID is still on cooldown; force
// refreshes the cooldown and runs anyway.
func (b *Backfiller) Start(ctx context.Context, did string, force bool) (bool, error) {
	if b.cfg.Days == 0 {
		return false, ErrBackfillDisabled
	}
	clean := SanitizeDID(did)
	if !ValidDID(clean) || !Repairable(clean) {
		return false, fmt.Errorf("%w: %q", ErrUnrepairable, did)
	}
	key := cooldownKey(clean)
	stamp := time.Now().UTC().Format(time.RFC3339)
	if force {
		if err := b.rdb.Set(ctx, key, stamp, b.cfg.Cooldown).Err(); err != nil {
			return false, fmt.Errorf("setting backfill cooldown for %s: %w", clean, err)
		}
	} else {
		ok, err := b.rdb.SetNX(ctx, key, stamp, b.cfg.Cooldown).Result()
		if err != nil {
			return false, fmt.Errorf("checking backfill cooldown for %s: %w", clean, err)
		}
		if !ok {
			return false, nil
		}
	}
	slog.Info("backfill accepted", "did", clean, "force", force, "days", b.cfg.Days)

	// The import outlives the HTTP request that triggered it.
	go b.run(context.WithoutCancel(ctx), clean)
	return true, nil
}

func (b *Backfiller) run(ctx context.Context, did string) {
	start := time.Now()
	endpoint := b.worker.resolver.ResolveDIDToPDS(ctx, did)
	if endpoint == "" {
		slog.Error("backfill aborted, no pds endpoint", "did", did)
		return
	}
	client := b.worker.pool.ForHost(endpoint)

	var cutoff time.Time
	if b.cfg.Days > 0 {
		cutoff = time.Now().AddDate(0, 0, -b.cfg.Days)
	}

	targets := make(map[string]struct{})
	var imported, skipped int
	cursor := ""
	for {
		page, err := client.ListRecords(ctx, did, collectionFollow, b.cfg.PageSize, cursor)
		if err != nil {
			slog.Error("backfill aborted, listing follows failed", "did", did, "cursor", cursor, "error", err)
			return
		}
		for _, rec := range page.Records {
			var follow struct {
				Subject   string `json:"subject"`
				CreatedAt string `json:"createdAt"`
			}
			if err := json.Unmarshal(rec.Value, &follow); err != nil || follow.Subject == "" {
				skipped++
				continue
			}
			if !cutoff.IsZero() {
				if created, err := time.Parse(time.RFC3339, follow.CreatedAt); err == nil && created.Before(cutoff) {
					skipped++
					continue
				}
			}
			if err := b.worker.sink.ProcessRecord(ctx, did, rec.URI, rec.CID, rec.Value); err != nil {
				slog.Warn("backfill follow indexing failed", "uri", rec.URI, "error", err)
			} else {
				imported++
				if imported%progressInterval == 0 {
					slog.Info("backfill progress", "did", did, "follows", imported)
				}
			}
			targets[follow.Subject] = struct{}{}
		}
		if page.Cursor == "" || len(page.Records) == 0 {
			break
		}
		cursor = page.Cursor
	}

	b.fetchProfiles(ctx, did, targets)
	slog.Info("backfill complete",
		"did", did, "follows", imported, "skipped", skipped, "targets", len(targets),
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// fetchProfiles pulls the follow targets' profiles in small delayed
// batches. These are third-party PDS reads on a background errand, so
// they yield to everything else.
func (b *Backfiller) fetchProfiles(ctx context.Context, did string, targets map[string]struct{}) {
	dids := make([]string, 0, len(targets))
	for t := range targets {
		dids = append(dids, t)
	}
	sem := make(chan struct{}, b.cfg.MaxConcurrent)
	var fetched atomic.Int64
	for i := 0; i < len(dids); i += b.cfg.BatchSize {
		if ctx.Err() != nil {
			return
		}
		end := min(i+b.cfg.BatchSize, len(dids))
		var wg sync.WaitGroup
		for _, target := range dids[i:end] {
			wg.Add(1)
			sem <- struct{}{}
			go func(target string) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := b.worker.RepairUser(ctx, target); err != nil {
					slog.Warn("backfill profile fetch failed", "did", target, "error", err)
					return
				}
				if n := fetched.Add(1); n%progressInterval == 0 {
					slog.Info("backfill profile progress", "did", did, "profiles", n)
				}
			}(target)
		}
		wg.Wait()
		if end < len(dids) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.BatchDelay):
			}
		}
	}
}
