// Package repair backfills data the firehose referenced but never
// delivered. The event processor marks an incomplete entry whenever a
// commit arrives without its record block or an op lands before its
// author exists; a periodic sweep fetches the missing record from the
// owning PDS and feeds it back through the processor.
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

	"github.com/bluesky-social/indigo/atproto/syntax"

	"Skyview/internal/atproto/identity"
	"Skyview/internal/atproto/pds"
	"Skyview/internal/core/users"
	"Skyview/internal/metrics"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultRetryDelay    = 30 * time.Second
	defaultMaxRetries    = 3
	defaultMaxEntries    = 50_000
	defaultParallelism   = 10

	// batchLogSize keeps per-fetch logging quiet: one line per this many
	// operations instead of one per record.
	batchLogSize = 5000

	collectionProfile = "app.bsky.actor.profile"
)

// errGone marks a record that the owning PDS reports deleted. The entry
// is removed without retrying; the deletion already won.
var errGone = errors.New("record deleted upstream")

// RecordSink receives fetched records. The event processor implements
// it; the indirection exists because the processor and the worker
// reference each other (the processor schedules repairs, the worker
// feeds records back).
type RecordSink interface {
	ProcessRecord(ctx context.Context, repo, uri, cid string, record json.RawMessage) error
	FlushPendingUserOps(ctx context.Context, did string)
	FlushPendingCreationOps(ctx context.Context, did string)
}

// Entry is one piece of missing data awaiting a fetch. URI is empty for
// user entries, where the profile record location is implied.
type Entry struct {
	Type        string
	DID         string
	URI         string
	Retries     int
	FirstSeen   time.Time
	LastAttempt time.Time
}

// Config bounds the worker. Zero values take the defaults.
type Config struct {
	SweepInterval time.Duration
	RetryDelay    time.Duration
	MaxRetries    int
	MaxEntries    int
	Parallelism   int
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	return c
}

// Worker holds the incomplete-entry queue and drains it against source
// PDSes. One Worker per process; the map is bounded and in-memory, so a
// restart loses pending repairs — the next firehose reference re-marks
// them.
type Worker struct {
	cfg      Config
	pool     *pds.Pool
	resolver identity.Resolver
	users    users.UserRepository
	sink     RecordSink

	mu      sync.Mutex
	entries map[string]*Entry

	sweeping atomic.Bool
	fetches  atomic.Int64
	repaired atomic.Int64
	overflow atomic.Int64
}

// New builds a worker without a record sink. Call SetSink before Run;
// the processor that marks entries is constructed after the worker it
// marks them on.
func New(cfg Config, pool *pds.Pool, resolver identity.Resolver, userRepo users.UserRepository) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		pool:     pool,
		resolver: resolver,
		users:    userRepo,
		entries:  make(map[string]*Entry),
	}
}

// SetSink wires the event processor in. Must be called before Run.
func (w *Worker) SetSink(sink RecordSink) {
	w.sink = sink
}

// MarkIncomplete queues a fetch for data the pipeline saw referenced
// but does not hold. Re-marking an existing entry counts as a failed
// attempt and pushes its next try out, so a hot missing record does not
// get fetched on every event that mentions it.
func (w *Worker) MarkIncomplete(entryType, did, uri string) {
	clean := SanitizeDID(did)
	if !ValidDID(clean) {
		slog.Warn("discarding repair mark with unusable did", "type", entryType, "did", did)
		return
	}
	if clean != did {
		slog.Warn("cleaned malformed did", "original", did, "cleaned", clean)
	}
	key := entryKey(entryType, clean, uri)
	now := time.Now()

	w.mu.Lock()
	if e, ok := w.entries[key]; ok {
		e.Retries++
		e.LastAttempt = now
		w.mu.Unlock()
		return
	}
	if len(w.entries) >= w.cfg.MaxEntries {
		w.mu.Unlock()
		metrics.RepairOps.WithLabelValues(entryType, "overflow").Inc()
		if n := w.overflow.Add(1); n == 1 || n%batchLogSize == 0 {
			slog.Warn("repair queue full, discarding marks", "type", entryType, "did", clean, "discarded", n)
		}
		return
	}
	w.entries[key] = &Entry{Type: entryType, DID: clean, URI: uri, FirstSeen: now, LastAttempt: now}
	w.mu.Unlock()
}

// Run sweeps the queue until the context ends.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("repair worker started",
		"sweepInterval", w.cfg.SweepInterval, "retryDelay", w.cfg.RetryDelay, "maxRetries", w.cfg.MaxRetries)
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("repair worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep makes one pass over the queue: entries past MaxRetries are
// dropped, entries attempted within RetryDelay are left alone, and the
// rest are fetched with bounded parallelism. At most one sweep runs at
// a time; overlapping calls return immediately.
func (w *Worker) Sweep(ctx context.Context) {
	if !w.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer w.sweeping.Store(false)

	now := time.Now()
	var due []*Entry
	var exhausted []*Entry

	w.mu.Lock()
	total := len(w.entries)
	if total == 0 {
		w.mu.Unlock()
		return
	}
	for key, e := range w.entries {
		if e.Retries >= w.cfg.MaxRetries {
			delete(w.entries, key)
			exhausted = append(exhausted, e)
			continue
		}
		if now.Sub(e.LastAttempt) < w.cfg.RetryDelay {
			continue
		}
		copied := *e
		due = append(due, &copied)
	}
	w.mu.Unlock()

	slog.Info("repair sweep starting", "entries", total, "due", len(due), "exhausted", len(exhausted))

	for _, e := range exhausted {
		w.drop(ctx, e)
	}

	sem := make(chan struct{}, w.cfg.Parallelism)
	var wg sync.WaitGroup
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(e *Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			w.attempt(ctx, e)
		}(e)
	}
	wg.Wait()

	w.mu.Lock()
	remaining := len(w.entries)
	w.mu.Unlock()
	w.updateDepthGauge()
	slog.Info("repair sweep complete", "processed", len(due), "remaining", remaining)
}

func (w *Worker) attempt(ctx context.Context, e *Entry) {
	err := w.fetch(ctx, e)
	switch {
	case err == nil:
		w.complete(e, "repaired")
	case errors.Is(err, errGone):
		slog.Warn("record gone upstream, abandoning repair", "type", e.Type, "uri", e.URI)
		w.complete(e, "deleted")
	default:
		slog.Warn("repair attempt failed",
			"type", e.Type, "did", e.DID, "uri", e.URI, "retries", e.Retries, "error", err)
		metrics.RepairOps.WithLabelValues(e.Type, "failed").Inc()
		w.mu.Lock()
		if live, ok := w.entries[entryKey(e.Type, e.DID, e.URI)]; ok {
			live.Retries++
			live.LastAttempt = time.Now()
		}
		w.mu.Unlock()
	}
}

func (w *Worker) complete(e *Entry, outcome string) {
	w.mu.Lock()
	delete(w.entries, entryKey(e.Type, e.DID, e.URI))
	w.mu.Unlock()
	metrics.RepairOps.WithLabelValues(e.Type, outcome).Inc()
	if n := w.repaired.Add(1); n%batchLogSize == 0 {
		slog.Info("repair batch complete", "batch", batchLogSize, "total", n)
	}
}

// drop abandons an entry whose retries are exhausted. Users still get a
// minimal row so ops parked on the DID have something to land on.
func (w *Worker) drop(ctx context.Context, e *Entry) {
	slog.Warn("max retries exceeded, dropping repair entry", "type", e.Type, "did", e.DID, "uri", e.URI)
	metrics.RepairOps.WithLabelValues(e.Type, "dropped").Inc()
	if e.Type != "user" {
		return
	}
	if err := w.materializeMinimal(ctx, e.DID, "", "repair retries exhausted"); err != nil {
		slog.Error("failed to create minimal user", "did", e.DID, "error", err)
	}
}

// fetch routes one entry to its PDS. User entries pull the profile;
// interaction entries without a URI re-fetch the actor, everything else
// is fetched by its AT-URI.
func (w *Worker) fetch(ctx context.Context, e *Entry) error {
	did := SanitizeDID(e.DID)
	if !Repairable(did) {
		return fmt.Errorf("unrepairable did method: %q", did)
	}
	endpoint := w.resolver.ResolveDIDToPDS(ctx, did)
	if endpoint == "" {
		return fmt.Errorf("no pds endpoint for %s", did)
	}
	if n := w.fetches.Add(1); n%batchLogSize == 0 {
		slog.Info("repair fetch batch", "batch", batchLogSize, "total", n)
	}
	client := w.pool.ForHost(endpoint)
	switch {
	case e.Type == "user":
		return w.repairUser(ctx, client, did)
	case e.URI != "":
		return w.repairRecord(ctx, client, e.URI)
	case e.Type == "like" || e.Type == "repost" || e.Type == "follow":
		// A bare interaction entry means the actor is what is missing.
		return w.repairUser(ctx, client, did)
	default:
		return fmt.Errorf("%s entry for %s has no uri to fetch", e.Type, did)
	}
}

func (w *Worker) repairRecord(ctx context.Context, client *pds.Client, uri string) error {
	repo, collection, rkey, err := splitATURI(uri)
	if err != nil {
		return err
	}
	rec, err := client.GetRecord(ctx, repo, collection, rkey)
	if pds.IsRecordNotFound(err) {
		return errGone
	}
	if err != nil {
		return err
	}
	if err := w.sink.ProcessRecord(ctx, repo, rec.URI, rec.CID, rec.Value); err != nil {
		return fmt.Errorf("indexing fetched record %s: %w", rec.URI, err)
	}
	return nil
}

// repairUser pulls the DID's profile record and materializes the user.
// A missing profile is not an error: the account exists, it just never
// wrote one, so a minimal row with the resolved handle suffices.
func (w *Worker) repairUser(ctx context.Context, client *pds.Client, did string) error {
	rec, err := client.GetRecord(ctx, did, collectionProfile, "self")
	if pds.IsRecordNotFound(err) {
		return w.materializeMinimal(ctx, did, client.Host(), "no profile record at pds")
	}
	if err != nil {
		return err
	}
	handle := w.resolver.ResolveDIDToHandle(ctx, did)
	if handle == "" {
		handle = did
	}
	if _, err := w.users.Upsert(ctx, &users.User{DID: did, Handle: handle, PDSURL: client.Host()}); err != nil {
		return fmt.Errorf("upserting user %s: %w", did, err)
	}
	if err := w.sink.ProcessRecord(ctx, did, rec.URI, rec.CID, rec.Value); err != nil {
		return fmt.Errorf("indexing profile %s: %w", rec.URI, err)
	}
	w.sink.FlushPendingUserOps(ctx, did)
	w.sink.FlushPendingCreationOps(ctx, did)
	return nil
}

func (w *Worker) materializeMinimal(ctx context.Context, did, host, reason string) error {
	handle := w.resolver.ResolveDIDToHandle(ctx, did)
	if handle == "" {
		handle = did
	}
	if _, err := w.users.Upsert(ctx, &users.User{DID: did, Handle: handle, PDSURL: host}); err != nil {
		return fmt.Errorf("creating minimal user %s: %w", did, err)
	}
	slog.Warn("created minimal user row", "did", did, "handle", handle, "reason", reason)
	if w.sink != nil {
		w.sink.FlushPendingUserOps(ctx, did)
		w.sink.FlushPendingCreationOps(ctx, did)
	}
	return nil
}

// RepairUser fetches and indexes one user's profile immediately,
// outside the sweep cycle. Backfill calls it for follow targets.
func (w *Worker) RepairUser(ctx context.Context, did string) error {
	clean := SanitizeDID(did)
	if !ValidDID(clean) || !Repairable(clean) {
		return fmt.Errorf("unrepairable did %q", did)
	}
	endpoint := w.resolver.ResolveDIDToPDS(ctx, clean)
	if endpoint == "" {
		return fmt.Errorf("no pds endpoint for %s", clean)
	}
	return w.repairUser(ctx, w.pool.ForHost(endpoint), clean)
}

// Stats summarizes the queue for the status endpoint.
type Stats struct {
	Total          int            `json:"total"`
	ByType         map[string]int `json:"byType"`
	ByRetryCount   map[int]int    `json:"byRetryCount"`
	OldestEntryAge int64          `json:"oldestEntryAgeMs"`
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{
		Total:        len(w.entries),
		ByType:       make(map[string]int),
		ByRetryCount: make(map[int]int),
	}
	var oldest time.Time
	for _, e := range w.entries {
		s.ByType[e.Type]++
		s.ByRetryCount[e.Retries]++
		if oldest.IsZero() || e.FirstSeen.Before(oldest) {
			oldest = e.FirstSeen
		}
	}
	if !oldest.IsZero() {
		s.OldestEntryAge = time.Since(oldest).Milliseconds()
	}
	return s
}

func (w *Worker) updateDepthGauge() {
	w.mu.Lock()
	byType := make(map[string]int)
	for _, e := range w.entries {
		byType[e.Type]++
	}
	w.mu.Unlock()
	metrics.RepairQueueDepth.Reset()
	for t, n := range byType {
		metrics.RepairQueueDepth.WithLabelValues(t).Set(float64(n))
	}
}

func entryKey(entryType, did, uri string) string {
	if uri == "" {
		return entryType + ":" + did
	}
	return entryType + ":" + did + ":" + uri
}

func splitATURI(uri string) (repo, collection, rkey string, err error) {
	parsed, err := syntax.ParseATURI(uri)
	if err != nil {
		return "", "", "", fmt.Errorf("parsing at-uri %q: %w", uri, err)
	}
	repo = parsed.Authority().String()
	collection = parsed.Collection().String()
	rkey = parsed.RecordKey().String()
	if collection == "" || rkey == "" {
		return "", "", "", fmt.Errorf("at-uri %q missing collection or record key", uri)
	}
	return repo, collection, rkey, nil
}
