// Package processor applies decoded firehose events to storage. It is
// the single write path of the AppView: worker replicas funnel their
// log batches through a Processor, and the repair worker reuses the
// same record handlers for fetched records.
//
// Processing is at-most-once per acknowledged event. Every write is an
// idempotent upsert keyed by the record's AT-URI or its natural key,
// so a redelivered or replayed event converges to the same state
// instead of double counting. Per-DID ordering is not guaranteed
// across workers; convergence comes from last-write-wins upserts plus
// the repair worker, not from sequencing.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"Skyview/internal/atproto/firehose"
	"Skyview/internal/atproto/identity"
	"Skyview/internal/cache"
	"Skyview/internal/core/feeds"
	"Skyview/internal/core/graph"
	"Skyview/internal/core/interactions"
	"Skyview/internal/core/lists"
	"Skyview/internal/core/posts"
	"Skyview/internal/core/records"
	"Skyview/internal/core/users"
	"Skyview/internal/eventlog"
	"Skyview/internal/metrics"
)

// ErrMalformed marks events and records that can never be applied:
// undecodable payloads, schema violations, impossible references.
// Workers ack these instead of retrying them forever.
var ErrMalformed = errors.New("malformed event")

// errUserMaterialization marks a failed write of the author's user
// row. Ops hitting it are retried through the pending queue rather
// than through log redelivery.
var errUserMaterialization = errors.New("user materialization failed")

// RepairScheduler receives references the processor could not fully
// index: a post cited before we stored it, a record whose block was
// missing from the frame, a user seen for the first time.
type RepairScheduler interface {
	MarkIncomplete(entryType, did, uri string)
}

// Stores bundles every repository the processor writes through.
type Stores struct {
	Users      users.UserRepository
	Posts      posts.PostRepository
	Gates      posts.ThreadGateRepository
	Aggregates posts.AggregateRepository
	Likes      interactions.LikeRepository
	Reposts    interactions.RepostRepository
	Follows    graph.FollowRepository
	Blocks     graph.BlockRepository
	Lists      lists.ListRepository
	ListItems  lists.ListItemRepository
	Feeds      feeds.FeedGeneratorRepository
	Records    records.GenericRecordRepository
}

// Processor turns firehose events into repository writes and cache
// invalidations. Safe for concurrent use by multiple workers.
type Processor struct {
	stores   Stores
	cache    cache.Invalidator
	repair   RepairScheduler
	resolver identity.Resolver

	// pendingUser parks record ops whose author row could not be
	// written; pendingCreation parks enrichment ops queued at lazy
	// user creation. Both flush on identity or profile activity.
	pendingUser     *pendingOps
	pendingCreation *pendingOps

	unknownMu   sync.Mutex
	unknownSeen map[string]struct{}
}

// New builds a Processor. The invalidator, repair scheduler and
// resolver may each be nil; the corresponding side effects are
// skipped.
func New(stores Stores, invalidator cache.Invalidator, repair RepairScheduler, resolver identity.Resolver) *Processor {
	return &Processor{
		stores:          stores,
		cache:           invalidator,
		repair:          repair,
		resolver:        resolver,
		pendingUser:     newPendingOps(pendingOpsPerKey),
		pendingCreation: newPendingOps(pendingOpsPerKey),
		unknownSeen:     make(map[string]struct{}),
	}
}

// Process applies one event. A nil return means the event is fully
// applied or consciously skipped and must be acked. An error wrapping
// ErrMalformed means the event can never be applied and must be acked
// too; any other error is transient and the event should be
// redelivered.
func (p *Processor) Process(ctx context.Context, event *firehose.Event) error {
	switch event.Kind {
	case eventlog.KindCommit:
		return p.handleCommit(ctx, event)
	case eventlog.KindIdentity:
		return p.handleIdentity(ctx, event)
	case eventlog.KindAccount:
		return p.handleAccount(ctx, event)
	default:
		return fmt.Errorf("unknown event kind %q: %w", event.Kind, ErrMalformed)
	}
}

func (p *Processor) handleCommit(ctx context.Context, event *firehose.Event) error {
	if event.Commit == nil {
		return fmt.Errorf("commit event %d has no commit body: %w", event.Seq, ErrMalformed)
	}
	for _, op := range event.Commit.Ops {
		uri := op.URI(event.Did)
		var err error
		switch op.Action {
		case "create", "update":
			if len(op.Record) == 0 {
				// The frame carried no block for this path, usually a
				// commit too large to inline. The repair worker
				// fetches the record from its PDS instead.
				p.markIncomplete(typeForCollection(op.Collection()), event.Did, uri)
				metrics.RecordOps.WithLabelValues(op.Collection(), "deferred").Inc()
				continue
			}
			err = p.ProcessRecord(ctx, event.Did, uri, op.CID, op.Record)
		case "delete":
			err = p.deleteRecord(ctx, event.Did, uri)
		default:
			continue
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrMalformed):
			// One bad op must not poison the rest of the commit.
			slog.Warn("skipping malformed record op",
				"seq", event.Seq, "action", op.Action, "uri", uri, "error", err)
			metrics.RecordOps.WithLabelValues(op.Collection(), "rejected").Inc()
		default:
			return fmt.Errorf("%s %s: %w", op.Action, uri, err)
		}
	}
	return nil
}

func (p *Processor) handleIdentity(ctx context.Context, event *firehose.Event) error {
	if event.Identity == nil {
		return fmt.Errorf("identity event %d has no body: %w", event.Seq, ErrMalformed)
	}
	did := event.Identity.Did

	// Drop cached identity state first so the resolutions below see
	// the rotated document rather than the one that triggered the
	// event.
	if p.resolver != nil {
		p.resolver.Purge(did)
	}

	if err := p.materializeUser(ctx, did); err != nil {
		return err
	}

	handle := event.Identity.Handle
	if handle == "" && p.resolver != nil {
		handle = p.resolver.ResolveDIDToHandle(ctx, did)
	}
	if handle != "" {
		var pdsURL string
		if p.resolver != nil {
			pdsURL = p.resolver.ResolveDIDToPDS(ctx, did)
		}
		if _, err := p.stores.Users.Upsert(ctx, &users.User{DID: did, Handle: handle, PDSURL: pdsURL}); err != nil {
			return fmt.Errorf("updating identity for %s: %w", did, err)
		}
	}

	p.FlushPendingUserOps(ctx, did)
	p.FlushPendingCreationOps(ctx, did)
	return nil
}

func (p *Processor) handleAccount(ctx context.Context, event *firehose.Event) error {
	if event.Account == nil {
		return fmt.Errorf("account event %d has no body: %w", event.Seq, ErrMalformed)
	}
	did := event.Account.Did
	if err := p.materializeUser(ctx, did); err != nil {
		return err
	}
	if err := p.stores.Users.UpdateAccountStatus(ctx, did, event.Account.Active, event.Account.Status); err != nil {
		return fmt.Errorf("updating account status for %s: %w", did, err)
	}
	return nil
}

// ProcessRecord indexes one record version. Commit handling routes
// every inline block through here; the repair worker calls it directly
// with records fetched from a PDS.
func (p *Processor) ProcessRecord(ctx context.Context, repo, uri, cid string, record json.RawMessage) error {
	_, collection, rkey, err := parseATURI(uri)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	err = p.applyRecord(ctx, repo, collection, rkey, uri, cid, record)
	if errors.Is(err, errUserMaterialization) {
		// The author row could not be written right now. Park the op;
		// the DID's next identity event or user flush replays it.
		slog.Warn("parking record op pending user materialization",
			"did", repo, "uri", uri, "error", err)
		p.pendingUser.add(repo, pendingOpBudget, func(ctx context.Context) error {
			return p.applyRecord(ctx, repo, collection, rkey, uri, cid, record)
		})
		return nil
	}
	return err
}

func (p *Processor) applyRecord(ctx context.Context, repo, collection, rkey, uri, cid string, record json.RawMessage) error {
	switch collection {
	case collectionPost:
		return p.createPost(ctx, repo, uri, cid, record)
	case collectionLike:
		return p.createLike(ctx, repo, uri, cid, record)
	case collectionRepost:
		return p.createRepost(ctx, repo, uri, cid, record)
	case collectionFollow:
		return p.createFollow(ctx, repo, uri, cid, record)
	case collectionBlock:
		return p.createBlock(ctx, repo, uri, cid, record)
	case collectionList:
		return p.createList(ctx, repo, uri, cid, record)
	case collectionListItem:
		return p.createListItem(ctx, repo, uri, cid, record)
	case collectionThreadGate:
		return p.createThreadGate(ctx, repo, rkey, uri, cid, record)
	case collectionProfile:
		return p.updateProfile(ctx, repo, record)
	case collectionFeedGen:
		return p.createFeedGenerator(ctx, repo, uri, cid, record)
	case records.CollectionStarterPack, records.CollectionLabeler, records.CollectionVerification:
		return p.createGenericRecord(ctx, repo, collection, uri, cid, record)
	default:
		p.noteUnknownCollection(collection)
		return nil
	}
}

func (p *Processor) deleteRecord(ctx context.Context, repo, uri string) error {
	_, collection, rkey, err := parseATURI(uri)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	switch collection {
	case collectionPost:
		return p.deletePost(ctx, uri)
	case collectionLike:
		return p.deleteLike(ctx, uri)
	case collectionRepost:
		return p.deleteRepost(ctx, uri)
	case collectionFollow:
		return p.deleteFollow(ctx, uri)
	case collectionBlock:
		return p.deleteBlock(ctx, uri)
	case collectionList:
		return p.deleteList(ctx, uri)
	case collectionListItem:
		return p.deleteListItem(ctx, uri)
	case collectionThreadGate:
		return p.deleteThreadGate(ctx, repo, rkey)
	case collectionProfile:
		return p.clearProfile(ctx, repo)
	case collectionFeedGen:
		return p.deleteFeedGenerator(ctx, uri)
	case records.CollectionStarterPack, records.CollectionLabeler, records.CollectionVerification:
		return p.deleteGenericRecord(ctx, collection, uri)
	default:
		p.noteUnknownCollection(collection)
		return nil
	}
}

// materializeUser lazily creates the DID's placeholder row on first
// reference. New users are handed to the repair worker for profile and
// handle resolution, and any ops already parked on the DID flush.
func (p *Processor) materializeUser(ctx context.Context, did string) error {
	created, err := p.stores.Users.EnsureExists(ctx, did)
	var invalidDID *users.InvalidDIDError
	if errors.As(err, &invalidDID) {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if err != nil {
		return fmt.Errorf("ensuring user %s: %v: %w", did, err, errUserMaterialization)
	}
	if !created {
		return nil
	}
	p.markIncomplete("user", did, "")
	p.pendingCreation.add(did, pendingOpBudget, func(ctx context.Context) error {
		return p.refreshHandle(ctx, did)
	})
	p.FlushPendingUserOps(ctx, did)
	return nil
}

// refreshHandle swaps the placeholder handle for the DID's declared
// one. Without a resolver this is a no-op.
func (p *Processor) refreshHandle(ctx context.Context, did string) error {
	if p.resolver == nil {
		return nil
	}
	handle := p.resolver.ResolveDIDToHandle(ctx, did)
	if handle == "" {
		return fmt.Errorf("handle for %s not resolved yet", did)
	}
	if err := p.stores.Users.UpdateHandle(ctx, did, handle); err != nil {
		return fmt.Errorf("updating handle for %s: %w", did, err)
	}
	return nil
}

// FlushPendingUserOps replays record ops parked while the DID's user
// row was unavailable. Failed ops are re-parked until their budget
// runs out.
func (p *Processor) FlushPendingUserOps(ctx context.Context, did string) {
	p.flushQueue(ctx, p.pendingUser, did)
}

// FlushPendingCreationOps replays enrichment ops parked at lazy user
// creation, typically once the profile record shows up.
func (p *Processor) FlushPendingCreationOps(ctx context.Context, did string) {
	p.flushQueue(ctx, p.pendingCreation, did)
}

func (p *Processor) flushQueue(ctx context.Context, queue *pendingOps, did string) {
	for _, op := range queue.take(did) {
		err := op.run(ctx)
		if err == nil {
			continue
		}
		if op.budget > 1 {
			queue.add(did, op.budget-1, op.run)
			continue
		}
		slog.Warn("dropping pending op, budget exhausted", "did", did, "error", err)
	}
}

// PendingOps reports how many deferred ops are parked, for the status
// endpoint.
func (p *Processor) PendingOps() (userOps, creationOps int) {
	return p.pendingUser.size(), p.pendingCreation.size()
}

func (p *Processor) markIncomplete(entryType, did, uri string) {
	if p.repair == nil {
		return
	}
	p.repair.MarkIncomplete(entryType, did, uri)
}

// invalidate drops cached views. Best-effort: a failed delete leaves a
// stale entry for its TTL, never a wrong one.
func (p *Processor) invalidate(ctx context.Context, keys []string, patterns ...string) {
	if p.cache == nil {
		return
	}
	if len(keys) > 0 {
		if err := p.cache.Del(ctx, keys...); err != nil {
			slog.Warn("cache invalidation failed", "keys", keys, "error", err)
		}
	}
	for _, pattern := range patterns {
		if err := p.cache.DelPattern(ctx, pattern); err != nil {
			slog.Warn("cache invalidation failed", "pattern", pattern, "error", err)
		}
	}
}

// noteUnknownCollection logs the first sighting of a collection we do
// not index. Once per process per collection; the firehose would
// repeat it millions of times otherwise.
func (p *Processor) noteUnknownCollection(collection string) {
	metrics.RecordOps.WithLabelValues("unknown", "skipped").Inc()
	p.unknownMu.Lock()
	_, seen := p.unknownSeen[collection]
	if !seen {
		p.unknownSeen[collection] = struct{}{}
	}
	p.unknownMu.Unlock()
	if !seen {
		slog.Info("skipping records of untracked collection", "collection", collection)
	}
}

// parseATURI splits at://<authority>/<collection>/<rkey>.
func parseATURI(uri string) (did, collection, rkey string, err error) {
	parsed, err := syntax.ParseATURI(uri)
	if err != nil {
		return "", "", "", fmt.Errorf("parsing at-uri %q: %w", uri, err)
	}
	did = parsed.Authority().String()
	collection = parsed.Collection().String()
	rkey = parsed.RecordKey().String()
	if collection == "" || rkey == "" {
		return "", "", "", fmt.Errorf("at-uri %q missing collection or record key", uri)
	}
	return did, collection, rkey, nil
}

// typeForCollection maps a collection to the repair queue's record
// type vocabulary.
func typeForCollection(collection string) string {
	switch collection {
	case collectionPost:
		return "post"
	case collectionLike:
		return "like"
	case collectionRepost:
		return "repost"
	case collectionFollow:
		return "follow"
	case collectionList:
		return "list"
	case collectionListItem:
		return "listitem"
	case collectionFeedGen:
		return "feedgen"
	case records.CollectionStarterPack:
		return "starterpack"
	case records.CollectionLabeler:
		return "labeler"
	default:
		return "record"
	}
}
