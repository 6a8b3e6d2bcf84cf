package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"Skyview/internal/cache"
	"Skyview/internal/core/feeds"
	"Skyview/internal/core/graph"
	"Skyview/internal/core/interactions"
	"Skyview/internal/core/lists"
	"Skyview/internal/core/posts"
	"Skyview/internal/core/records"
	"Skyview/internal/core/users"
	"Skyview/internal/metrics"
)

func (p *Processor) createPost(ctx context.Context, repo, uri, cid string, record json.RawMessage) error {
	rec, err := parsePostRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}

	post := &posts.Post{
		URI:       uri,
		CID:       cid,
		AuthorDID: repo,
		Text:      rec.Text,
		Langs:     rec.Langs,
		Labels:    rec.Labels.values(),
		Tags:      rec.Tags,
		CreatedAt: parseCreatedAt(rec.CreatedAt),
		IndexedAt: time.Now().UTC(),
	}
	post.EmbedType, post.EmbedURI = embedSummary(rec.Embed)

	if rec.Reply != nil {
		if verr := validateReply(uri, rec.Reply); verr != nil {
			return fmt.Errorf("%v: %w", verr, ErrMalformed)
		}
		post.ParentURI, post.ParentCID = rec.Reply.Parent.URI, rec.Reply.Parent.CID
		post.RootURI, post.RootCID = rec.Reply.Root.URI, rec.Reply.Root.CID
	}

	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}

	created, err := p.stores.Posts.Upsert(ctx, post)
	if err != nil {
		return fmt.Errorf("storing post %s: %w", uri, err)
	}

	if post.IsReply() {
		// Parents and roots often arrive after the reply, or never
		// made it into our index at all.
		p.ensureRecordIndexed(ctx, post.ParentURI)
		if post.RootURI != post.ParentURI {
			p.ensureRecordIndexed(ctx, post.RootURI)
		}
		if created {
			if err := p.stores.Aggregates.IncrementReplies(ctx, post.ParentURI, 1); err != nil {
				return fmt.Errorf("counting reply on %s: %w", post.ParentURI, err)
			}
		}
	}

	patterns := []string{cache.ThreadPattern(uri)}
	if post.ParentURI != "" {
		patterns = append(patterns, cache.ThreadPattern(post.ParentURI))
	}
	if post.RootURI != "" && post.RootURI != post.ParentURI {
		patterns = append(patterns, cache.ThreadPattern(post.RootURI))
	}
	p.invalidate(ctx, []string{cache.PostKey(uri)}, patterns...)
	metrics.RecordOps.WithLabelValues(collectionPost, "create").Inc()
	return nil
}

func validateReply(uri string, reply *replyRefs) error {
	if reply.Parent == nil || reply.Parent.URI == "" || reply.Root == nil || reply.Root.URI == "" {
		return &posts.InvalidReplyError{URI: uri, Reason: "reply needs both parent and root refs"}
	}
	if reply.Parent.URI == uri || reply.Root.URI == uri {
		return &posts.InvalidReplyError{URI: uri, Reason: "reply references itself"}
	}
	return nil
}

func (p *Processor) deletePost(ctx context.Context, uri string) error {
	post, err := p.stores.Posts.Delete(ctx, uri)
	if errors.Is(err, posts.ErrPostNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting post %s: %w", uri, err)
	}

	if post.ParentURI != "" {
		if err := p.stores.Aggregates.IncrementReplies(ctx, post.ParentURI, -1); err != nil {
			return fmt.Errorf("uncounting reply on %s: %w", post.ParentURI, err)
		}
	}
	if err := p.stores.Aggregates.Delete(ctx, uri); err != nil {
		return fmt.Errorf("dropping aggregates for %s: %w", uri, err)
	}

	patterns := []string{cache.ThreadPattern(uri)}
	if post.ParentURI != "" {
		patterns = append(patterns, cache.ThreadPattern(post.ParentURI))
	}
	if post.RootURI != "" && post.RootURI != post.ParentURI {
		patterns = append(patterns, cache.ThreadPattern(post.RootURI))
	}
	p.invalidate(ctx, []string{cache.PostKey(uri)}, patterns...)
	metrics.RecordOps.WithLabelValues(collectionPost, "delete").Inc()
	return nil
}

func (p *Processor) createLike(ctx context.Context, repo, uri, cid string, record json.RawMessage) error {
	rec, err := parseSubjectRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}

	created, err := p.stores.Likes.Upsert(ctx, &interactions.Like{
		URI:        uri,
		CID:        cid,
		ActorDID:   repo,
		SubjectURI: rec.Subject.URI,
		SubjectCID: rec.Subject.CID,
		CreatedAt:  parseCreatedAt(rec.CreatedAt),
		IndexedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("storing like %s: %w", uri, err)
	}
	if created {
		if err := p.stores.Aggregates.IncrementLikes(ctx, rec.Subject.URI, 1); err != nil {
			return fmt.Errorf("counting like on %s: %w", rec.Subject.URI, err)
		}
		p.ensureRecordIndexed(ctx, rec.Subject.URI)
	}
	metrics.RecordOps.WithLabelValues(collectionLike, "create").Inc()
	return nil
}

func (p *Processor) deleteLike(ctx context.Context, uri string) error {
	like, err := p.stores.Likes.Delete(ctx, uri)
	if errors.Is(err, interactions.ErrLikeNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting like %s: %w", uri, err)
	}
	if err := p.stores.Aggregates.IncrementLikes(ctx, like.SubjectURI, -1); err != nil {
		return fmt.Errorf("uncounting like on %s: %w", like.SubjectURI, err)
	}
	metrics.RecordOps.WithLabelValues(collectionLike, "delete").Inc()
	return nil
}

func (p *Processor) createRepost(ctx context.Context, repo, uri, cid string, record json.RawMessage) error {
	rec, err := parseSubjectRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}

	created, err := p.stores.Reposts.Upsert(ctx, &interactions.Repost{
		URI:        uri,
		CID:        cid,
		ActorDID:   repo,
		SubjectURI: rec.Subject.URI,
		SubjectCID: rec.Subject.CID,
		CreatedAt:  parseCreatedAt(rec.CreatedAt),
		IndexedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("storing repost %s: %w", uri, err)
	}
	if created {
		if err := p.stores.Aggregates.IncrementReposts(ctx, rec.Subject.URI, 1); err != nil {
			return fmt.Errorf("counting repost on %s: %w", rec.Subject.URI, err)
		}
		p.ensureRecordIndexed(ctx, rec.Subject.URI)
	}
	metrics.RecordOps.WithLabelValues(collectionRepost, "create").Inc()
	return nil
}

func (p *Processor) deleteRepost(ctx context.Context, uri string) error {
	repost, err := p.stores.Reposts.Delete(ctx, uri)
	if errors.Is(err, interactions.ErrRepostNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting repost %s: %w", uri, err)
	}
	if err := p.stores.Aggregates.IncrementReposts(ctx, repost.SubjectURI, -1); err != nil {
		return fmt.Errorf("uncounting repost on %s: %w", repost.SubjectURI, err)
	}
	metrics.RecordOps.WithLabelValues(collectionRepost, "delete").Inc()
	return nil
}

func (p *Processor) createFollow(ctx context.Context, repo, uri, cid string, record json.RawMessage) error {
	rec, err := parseDIDSubjectRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if rec.Subject == repo {
		return fmt.Errorf("follow %s targets its own author: %w", uri, ErrMalformed)
	}
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}
	if err := p.materializeUser(ctx, rec.Subject); err != nil {
		return err
	}

	if _, err := p.stores.Follows.Upsert(ctx, &graph.Follow{
		URI:         uri,
		CID:         cid,
		FollowerDID: repo,
		SubjectDID:  rec.Subject,
		CreatedAt:   parseCreatedAt(rec.CreatedAt),
		IndexedAt:   time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("storing follow %s: %w", uri, err)
	}
	p.invalidate(ctx, []string{cache.FollowingKey(repo)})
	metrics.RecordOps.WithLabelValues(collectionFollow, "create").Inc()
	return nil
}

func (p *Processor) deleteFollow(ctx context.Context, uri string) error {
	follow, err := p.stores.Follows.Delete(ctx, uri)
	if errors.Is(err, graph.ErrFollowNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting follow %s: %w", uri, err)
	}
	p.invalidate(ctx, []string{cache.FollowingKey(follow.FollowerDID)})
	metrics.RecordOps.WithLabelValues(collectionFollow, "delete").Inc()
	return nil
}

func (p *Processor) createBlock(ctx context.Context, repo, uri, cid string, record json.RawMessage) error {
	rec, err := parseDIDSubjectRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}
	if err := p.materializeUser(ctx, rec.Subject); err != nil {
		return err
	}

	if _, err := p.stores.Blocks.Upsert(ctx, &graph.Block{
		URI:        uri,
		CID:        cid,
		ActorDID:   repo,
		SubjectDID: rec.Subject,
		CreatedAt:  parseCreatedAt(rec.CreatedAt),
		IndexedAt:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("storing block %s: %w", uri, err)
	}
	p.invalidate(ctx, []string{cache.ViewerBlocksKey(repo), cache.ViewerMutesKey(repo)})
	metrics.RecordOps.WithLabelValues(collectionBlock, "create").Inc()
	return nil
}

func (p *Processor) deleteBlock(ctx context.Context, uri string) error {
	block, err := p.stores.Blocks.Delete(ctx, uri)
	if errors.Is(err, graph.ErrBlockNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting block %s: %w", uri, err)
	}
	p.invalidate(ctx, []string{cache.ViewerBlocksKey(block.ActorDID), cache.ViewerMutesKey(block.ActorDID)})
	metrics.RecordOps.WithLabelValues(collectionBlock, "delete").Inc()
	return nil
}

func (p *Processor) createList(ctx context.Context, repo, uri, cid string, record json.RawMessage) error {
	rec, err := parseListRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}

	// The record carries the purpose as a defs fragment
	// (app.bsky.graph.defs#curatelist); store the bare variant name.
	purpose := rec.Purpose
	if i := strings.LastIndexByte(purpose, '#'); i >= 0 {
		purpose = purpose[i+1:]
	}

	if err := p.stores.Lists.Upsert(ctx, &lists.List{
		URI:         uri,
		CID:         cid,
		CreatorDID:  repo,
		Name:        rec.Name,
		Purpose:     purpose,
		Description: rec.Description,
		AvatarCID:   ExtractCID(rec.Avatar),
		CreatedAt:   parseCreatedAt(rec.CreatedAt),
		IndexedAt:   time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("storing list %s: %w", uri, err)
	}
	metrics.RecordOps.WithLabelValues(collectionList, "create").Inc()
	return nil
}

func (p *Processor) deleteList(ctx context.Context, uri string) error {
	if err := p.stores.Lists.Delete(ctx, uri); err != nil && !errors.Is(err, lists.ErrListNotFound) {
		return fmt.Errorf("deleting list %s: %w", uri, err)
	}
	p.invalidate(ctx, []string{cache.ListMembersKey(uri)})
	metrics.RecordOps.WithLabelValues(collectionList, "delete").Inc()
	return nil
}

func (p *Processor) createListItem(ctx context.Context, repo, uri, cid string, record json.RawMessage) error {
	rec, err := parseListItemRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}
	if err := p.materializeUser(ctx, rec.Subject); err != nil {
		return err
	}

	if err := p.stores.ListItems.Upsert(ctx, &lists.ListItem{
		URI:        uri,
		CID:        cid,
		ListURI:    rec.List,
		SubjectDID: rec.Subject,
		CreatedAt:  parseCreatedAt(rec.CreatedAt),
		IndexedAt:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("storing listitem %s: %w", uri, err)
	}
	p.ensureRecordIndexed(ctx, rec.List)
	p.invalidate(ctx, []string{cache.ListMembersKey(rec.List)})
	metrics.RecordOps.WithLabelValues(collectionListItem, "create").Inc()
	return nil
}

func (p *Processor) deleteListItem(ctx context.Context, uri string) error {
	item, err := p.stores.ListItems.Delete(ctx, uri)
	if errors.Is(err, lists.ErrListItemNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting listitem %s: %w", uri, err)
	}
	p.invalidate(ctx, []string{cache.ListMembersKey(item.ListURI)})
	metrics.RecordOps.WithLabelValues(collectionListItem, "delete").Inc()
	return nil
}

// createThreadGate stores a reply gate. The gate's record key equals
// the gated post's record key, so the post URI comes from substituting
// the collection, not from trusting the record body.
func (p *Processor) createThreadGate(ctx context.Context, repo, rkey, uri, cid string, record json.RawMessage) error {
	rec, err := parseThreadGateRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	postURI := "at://" + repo + "/" + collectionPost + "/" + rkey
	if rec.Post != "" && rec.Post != postURI {
		slog.Warn("threadgate post field disagrees with record key", "uri", uri, "post", rec.Post)
	}
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}

	gate := &posts.ThreadGate{
		URI:       uri,
		CID:       cid,
		PostURI:   postURI,
		OwnerDID:  repo,
		CreatedAt: parseCreatedAt(rec.CreatedAt),
		IndexedAt: time.Now().UTC(),
	}
	for _, rule := range rec.Allow {
		switch {
		case strings.HasSuffix(rule.Type, "#mentionRule"):
			gate.AllowMentions = true
		case strings.HasSuffix(rule.Type, "#followingRule"):
			gate.AllowFollowing = true
		case strings.HasSuffix(rule.Type, "#listRule"):
			gate.AllowListMembers = true
			if rule.List != "" {
				gate.AllowListURIs = append(gate.AllowListURIs, rule.List)
			}
		}
	}

	if err := p.stores.Gates.Upsert(ctx, gate); err != nil {
		return fmt.Errorf("storing threadgate %s: %w", uri, err)
	}
	for _, listURI := range gate.AllowListURIs {
		p.ensureRecordIndexed(ctx, listURI)
	}
	p.invalidate(ctx, []string{cache.GateKey(postURI)}, cache.ThreadPattern(postURI))
	metrics.RecordOps.WithLabelValues(collectionThreadGate, "create").Inc()
	return nil
}

func (p *Processor) deleteThreadGate(ctx context.Context, repo, rkey string) error {
	postURI := "at://" + repo + "/" + collectionPost + "/" + rkey
	if err := p.stores.Gates.DeleteByPostURI(ctx, postURI); err != nil && !errors.Is(err, posts.ErrGateNotFound) {
		return fmt.Errorf("deleting threadgate for %s: %w", postURI, err)
	}
	p.invalidate(ctx, []string{cache.GateKey(postURI)}, cache.ThreadPattern(postURI))
	metrics.RecordOps.WithLabelValues(collectionThreadGate, "delete").Inc()
	return nil
}

// updateProfile replaces the profile-owned user fields wholesale; a
// profile record is the complete profile, so absent fields clear.
func (p *Processor) updateProfile(ctx context.Context, repo string, record json.RawMessage) error {
	rec, err := parseProfileRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}

	avatar := ExtractCID(rec.Avatar)
	banner := ExtractCID(rec.Banner)
	pinned := ""
	if rec.PinnedPost != nil {
		pinned = rec.PinnedPost.URI
	}
	update := users.ProfileUpdate{
		DisplayName: &rec.DisplayName,
		Description: &rec.Description,
		AvatarCID:   &avatar,
		BannerCID:   &banner,
		PinnedPost:  &pinned,
	}
	if err := p.stores.Users.UpdateProfile(ctx, repo, update); err != nil {
		return fmt.Errorf("updating profile for %s: %w", repo, err)
	}
	p.FlushPendingCreationOps(ctx, repo)
	metrics.RecordOps.WithLabelValues(collectionProfile, "update").Inc()
	return nil
}

// clearProfile handles a deleted profile record: display fields reset,
// the account row stays.
func (p *Processor) clearProfile(ctx context.Context, repo string) error {
	empty := ""
	update := users.ProfileUpdate{
		DisplayName: &empty,
		Description: &empty,
		AvatarCID:   &empty,
		BannerCID:   &empty,
		PinnedPost:  &empty,
	}
	err := p.stores.Users.UpdateProfile(ctx, repo, update)
	if errors.Is(err, users.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clearing profile for %s: %w", repo, err)
	}
	metrics.RecordOps.WithLabelValues(collectionProfile, "delete").Inc()
	return nil
}

func (p *Processor) createFeedGenerator(ctx context.Context, repo, uri, cid string, record json.RawMessage) error {
	rec, err := parseGeneratorRecord(record)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}

	if err := p.stores.Feeds.Upsert(ctx, &feeds.FeedGenerator{
		URI:         uri,
		CID:         cid,
		CreatorDID:  repo,
		FeedDID:     rec.DID,
		DisplayName: rec.DisplayName,
		Description: rec.Description,
		AvatarCID:   ExtractCID(rec.Avatar),
		CreatedAt:   parseCreatedAt(rec.CreatedAt),
		IndexedAt:   time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("storing feed generator %s: %w", uri, err)
	}
	metrics.RecordOps.WithLabelValues(collectionFeedGen, "create").Inc()
	return nil
}

func (p *Processor) deleteFeedGenerator(ctx context.Context, uri string) error {
	if err := p.stores.Feeds.Delete(ctx, uri); err != nil && !errors.Is(err, feeds.ErrFeedNotFound) {
		return fmt.Errorf("deleting feed generator %s: %w", uri, err)
	}
	metrics.RecordOps.WithLabelValues(collectionFeedGen, "delete").Inc()
	return nil
}

// createGenericRecord stores collections tracked without a dedicated
// table. The raw record is kept for later hydration.
func (p *Processor) createGenericRecord(ctx context.Context, repo, collection, uri, cid string, record json.RawMessage) error {
	if err := p.materializeUser(ctx, repo); err != nil {
		return err
	}
	var meta struct {
		CreatedAt string `json:"createdAt"`
	}
	if err := json.Unmarshal(record, &meta); err != nil {
		return fmt.Errorf("decoding %s record: %v: %w", collection, err, ErrMalformed)
	}

	if err := p.stores.Records.Upsert(ctx, &records.GenericRecord{
		URI:        uri,
		CID:        cid,
		AuthorDID:  repo,
		Collection: collection,
		Record:     record,
		CreatedAt:  parseCreatedAt(meta.CreatedAt),
		IndexedAt:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("storing %s record %s: %w", collection, uri, err)
	}
	metrics.RecordOps.WithLabelValues(collection, "create").Inc()
	return nil
}

func (p *Processor) deleteGenericRecord(ctx context.Context, collection, uri string) error {
	if err := p.stores.Records.Delete(ctx, uri); err != nil && !errors.Is(err, records.ErrRecordNotFound) {
		return fmt.Errorf("deleting %s record %s: %w", collection, uri, err)
	}
	metrics.RecordOps.WithLabelValues(collection, "delete").Inc()
	return nil
}

// ensureRecordIndexed schedules a repair fetch for a referenced record
// that is not in storage. Only collections with local storage are
// checked; a lookup error just postpones the repair.
func (p *Processor) ensureRecordIndexed(ctx context.Context, uri string) {
	if p.repair == nil {
		return
	}
	did, collection, _, err := parseATURI(uri)
	if err != nil {
		return
	}
	switch collection {
	case collectionPost:
		if exists, err := p.stores.Posts.Exists(ctx, uri); err == nil && !exists {
			p.repair.MarkIncomplete("record", did, uri)
		}
	case collectionFeedGen:
		if _, err := p.stores.Feeds.GetByURI(ctx, uri); errors.Is(err, feeds.ErrFeedNotFound) {
			p.repair.MarkIncomplete("feedgen", did, uri)
		}
	case collectionList:
		if exists, err := p.stores.Lists.Exists(ctx, uri); err == nil && !exists {
			p.repair.MarkIncomplete("list", did, uri)
		}
	}
}
