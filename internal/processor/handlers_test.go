package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"Skyview/internal/cache"
	"Skyview/internal/core/posts"
)

func TestCreatePost(t *testing.T) {
	env := newTestEnv()
	uri := "at://did:plc:alice/app.bsky.feed.post/3kpost"

	record := `{"text":"hello world","langs":["en","pt"],"tags":["intro"],` +
		`"labels":{"values":[{"val":"graphic-media"}]},"createdAt":"2024-05-01T12:00:00Z"}`
	mustProcess(t, env, commitEvent("did:plc:alice", createOp(collectionPost, "3kpost", "bafypost", record)))

	post := env.posts.get(uri)
	if post == nil {
		t.Fatal("post not stored")
	}
	if post.AuthorDID != "did:plc:alice" || post.CID != "bafypost" {
		t.Errorf("stored author/cid = %q/%q", post.AuthorDID, post.CID)
	}
	if post.Text != "hello world" {
		t.Errorf("text = %q", post.Text)
	}
	if len(post.Langs) != 2 || post.Langs[0] != "en" {
		t.Errorf("langs = %v", post.Langs)
	}
	if len(post.Labels) != 1 || post.Labels[0] != "graphic-media" {
		t.Errorf("labels = %v", post.Labels)
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if !post.CreatedAt.Equal(want) {
		t.Errorf("createdAt = %v, want %v", post.CreatedAt, want)
	}
	if !env.inv.sawKey(cache.PostKey(uri)) {
		t.Error("post cache key not invalidated")
	}
	if !env.inv.sawPattern(cache.ThreadPattern(uri)) {
		t.Error("thread cache not invalidated")
	}
}

func TestCreatePostKeepsEmbedSummary(t *testing.T) {
	env := newTestEnv()
	quoted := "at://did:plc:bob/app.bsky.feed.post/3korig"

	record := fmt.Sprintf(`{"text":"quoting","createdAt":"2024-05-01T12:00:00Z",`+
		`"embed":{"$type":"app.bsky.embed.record","record":{"uri":%q,"cid":"bafyorig"}}}`, quoted)
	mustProcess(t, env, commitEvent("did:plc:alice", createOp(collectionPost, "3kquote", "bafyq", record)))

	post := env.posts.get("at://did:plc:alice/app.bsky.feed.post/3kquote")
	if post.EmbedType != "app.bsky.embed.record" {
		t.Errorf("embedType = %q", post.EmbedType)
	}
	if post.EmbedURI != quoted {
		t.Errorf("embedUri = %q, want %q", post.EmbedURI, quoted)
	}
}

func replyRecord(parentURI, rootURI string) string {
	return fmt.Sprintf(`{"text":"me too","createdAt":"2024-05-01T12:00:00Z",`+
		`"reply":{"parent":{"uri":%q,"cid":"bafyparent"},"root":{"uri":%q,"cid":"bafyroot"}}}`,
		parentURI, rootURI)
}

func TestCreateReplySchedulesMissingThread(t *testing.T) {
	env := newTestEnv()
	parentURI := "at://did:plc:bob/app.bsky.feed.post/3kparent"
	rootURI := "at://did:plc:carol/app.bsky.feed.post/3kroot"

	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionPost, "3kreply", "bafyreply", replyRecord(parentURI, rootURI))))

	post := env.posts.get("at://did:plc:alice/app.bsky.feed.post/3kreply")
	if post == nil {
		t.Fatal("reply not stored")
	}
	if post.ParentURI != parentURI || post.RootURI != rootURI {
		t.Errorf("reply refs = %q/%q", post.ParentURI, post.RootURI)
	}

	// Neither referenced post is indexed yet; both go to repair.
	if !env.repair.has("record", "did:plc:bob", parentURI) {
		t.Error("missing parent not handed to repair")
	}
	if !env.repair.has("record", "did:plc:carol", rootURI) {
		t.Error("missing root not handed to repair")
	}

	agg, _ := env.aggs.Get(context.Background(), parentURI)
	if agg.ReplyCount != 1 {
		t.Errorf("parent replyCount = %d, want 1", agg.ReplyCount)
	}
	for _, uri := range []string{post.URI, parentURI, rootURI} {
		if !env.inv.sawPattern(cache.ThreadPattern(uri)) {
			t.Errorf("thread cache for %s not invalidated", uri)
		}
	}
}

func TestReplyRedeliveryDoesNotDoubleCount(t *testing.T) {
	env := newTestEnv()
	parentURI := "at://did:plc:bob/app.bsky.feed.post/3kparent"
	event := commitEvent("did:plc:alice",
		createOp(collectionPost, "3kreply", "bafyreply", replyRecord(parentURI, parentURI)))

	mustProcess(t, env, event)
	mustProcess(t, env, event)

	agg, _ := env.aggs.Get(context.Background(), parentURI)
	if agg.ReplyCount != 1 {
		t.Errorf("parent replyCount = %d after redelivery, want 1", agg.ReplyCount)
	}
}

func TestRejectsSelfReferentialReply(t *testing.T) {
	env := newTestEnv()
	uri := "at://did:plc:alice/app.bsky.feed.post/3kself"

	// The op is malformed but the commit still acks.
	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionPost, "3kself", "bafyself", replyRecord(uri, uri))))

	if got := env.posts.get(uri); got != nil {
		t.Error("self-referential reply stored")
	}
}

func TestDeletePost(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	parentURI := "at://did:plc:bob/app.bsky.feed.post/3kparent"
	replyURI := "at://did:plc:alice/app.bsky.feed.post/3kreply"

	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionPost, "3kreply", "bafyreply", replyRecord(parentURI, parentURI))))
	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionPost, "3kreply")))

	if got := env.posts.get(replyURI); got != nil {
		t.Error("deleted post still stored")
	}
	agg, _ := env.aggs.Get(ctx, parentURI)
	if agg.ReplyCount != 0 {
		t.Errorf("parent replyCount = %d after delete, want 0", agg.ReplyCount)
	}

	// Deleting a post we never indexed is a no-op, not an error.
	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionPost, "3kmissing")))
}

func TestPostCreateDeleteCreateConverges(t *testing.T) {
	env := newTestEnv()
	parentURI := "at://did:plc:bob/app.bsky.feed.post/3kparent"
	create := commitEvent("did:plc:alice",
		createOp(collectionPost, "3kreply", "bafyreply", replyRecord(parentURI, parentURI)))

	mustProcess(t, env, create)
	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionPost, "3kreply")))
	mustProcess(t, env, create)

	if got := env.posts.get("at://did:plc:alice/app.bsky.feed.post/3kreply"); got == nil {
		t.Fatal("recreated post not stored")
	}
	agg, _ := env.aggs.Get(context.Background(), parentURI)
	if agg.ReplyCount != 1 {
		t.Errorf("parent replyCount = %d, want 1 after create/delete/create", agg.ReplyCount)
	}
}

func likeRecord(subjectURI string) string {
	return fmt.Sprintf(`{"subject":{"uri":%q,"cid":"bafysubject"},"createdAt":"2024-05-01T12:00:00Z"}`, subjectURI)
}

func TestLikeLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	subject := "at://did:plc:bob/app.bsky.feed.post/3ksubject"
	env.posts.Upsert(ctx, &posts.Post{URI: subject, CID: "bafysubject", AuthorDID: "did:plc:bob"})

	event := commitEvent("did:plc:alice", createOp(collectionLike, "3klike", "bafylike", likeRecord(subject)))
	mustProcess(t, env, event)
	mustProcess(t, env, event) // redelivery

	agg, _ := env.aggs.Get(ctx, subject)
	if agg.LikeCount != 1 {
		t.Errorf("likeCount = %d after redelivery, want 1", agg.LikeCount)
	}
	like := env.likes.rows["at://did:plc:alice/app.bsky.feed.like/3klike"]
	if like == nil {
		t.Fatal("like not stored")
	}
	if like.ActorDID != "did:plc:alice" || like.SubjectURI != subject {
		t.Errorf("like = %q on %q", like.ActorDID, like.SubjectURI)
	}
	// The subject is indexed, so no repair is needed.
	if env.repair.has("record", "did:plc:bob", subject) {
		t.Error("indexed subject handed to repair")
	}

	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionLike, "3klike")))
	agg, _ = env.aggs.Get(ctx, subject)
	if agg.LikeCount != 0 {
		t.Errorf("likeCount = %d after unlike, want 0", agg.LikeCount)
	}

	// Unliking twice must not go negative.
	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionLike, "3klike")))
	agg, _ = env.aggs.Get(ctx, subject)
	if agg.LikeCount != 0 {
		t.Errorf("likeCount = %d after double unlike, want 0", agg.LikeCount)
	}
}

func TestLikeOfUnknownSubjectSchedulesRepair(t *testing.T) {
	env := newTestEnv()
	subject := "at://did:plc:bob/app.bsky.feed.post/3kmissing"

	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionLike, "3klike", "bafylike", likeRecord(subject))))

	if !env.repair.has("record", "did:plc:bob", subject) {
		t.Error("unindexed subject not handed to repair")
	}
	agg, _ := env.aggs.Get(context.Background(), subject)
	if agg.LikeCount != 1 {
		t.Errorf("likeCount = %d, want counted even before the subject arrives", agg.LikeCount)
	}
}

func TestRepostLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	subject := "at://did:plc:bob/app.bsky.feed.post/3ksubject"
	env.posts.Upsert(ctx, &posts.Post{URI: subject, CID: "bafysubject", AuthorDID: "did:plc:bob"})

	event := commitEvent("did:plc:alice", createOp(collectionRepost, "3krepost", "bafyrp", likeRecord(subject)))
	mustProcess(t, env, event)
	mustProcess(t, env, event)

	agg, _ := env.aggs.Get(ctx, subject)
	if agg.RepostCount != 1 {
		t.Errorf("repostCount = %d, want 1", agg.RepostCount)
	}

	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionRepost, "3krepost")))
	agg, _ = env.aggs.Get(ctx, subject)
	if agg.RepostCount != 0 {
		t.Errorf("repostCount = %d after delete, want 0", agg.RepostCount)
	}
}

func TestFollowLifecycle(t *testing.T) {
	env := newTestEnv()
	uri := "at://did:plc:alice/app.bsky.graph.follow/3kfollow"

	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionFollow, "3kfollow", "bafyfollow",
			`{"subject":"did:plc:bob","createdAt":"2024-05-01T12:00:00Z"}`)))

	follow := env.follows.rows[uri]
	if follow == nil {
		t.Fatal("follow not stored")
	}
	if follow.FollowerDID != "did:plc:alice" || follow.SubjectDID != "did:plc:bob" {
		t.Errorf("follow = %q -> %q", follow.FollowerDID, follow.SubjectDID)
	}
	// Both sides of the edge get user rows.
	if env.users.get("did:plc:bob") == nil {
		t.Error("follow subject not materialized")
	}
	if !env.inv.sawKey(cache.FollowingKey("did:plc:alice")) {
		t.Error("following cache not invalidated")
	}

	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionFollow, "3kfollow")))
	if env.follows.rows[uri] != nil {
		t.Error("deleted follow still stored")
	}
}

func TestRejectsSelfFollow(t *testing.T) {
	env := newTestEnv()

	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionFollow, "3kself", "bafyself",
			`{"subject":"did:plc:alice","createdAt":"2024-05-01T12:00:00Z"}`)))

	if len(env.follows.rows) != 0 {
		t.Error("self-follow stored")
	}
}

func TestBlockLifecycle(t *testing.T) {
	env := newTestEnv()
	uri := "at://did:plc:alice/app.bsky.graph.block/3kblock"

	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionBlock, "3kblock", "bafyblock",
			`{"subject":"did:plc:mallory","createdAt":"2024-05-01T12:00:00Z"}`)))

	block := env.blocks.rows[uri]
	if block == nil {
		t.Fatal("block not stored")
	}
	if block.SubjectDID != "did:plc:mallory" {
		t.Errorf("block subject = %q", block.SubjectDID)
	}
	if !env.inv.sawKey(cache.ViewerBlocksKey("did:plc:alice")) {
		t.Error("viewer blocks cache not invalidated")
	}
	if !env.inv.sawKey(cache.ViewerMutesKey("did:plc:alice")) {
		t.Error("viewer mutes cache not invalidated")
	}

	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionBlock, "3kblock")))
	if env.blocks.rows[uri] != nil {
		t.Error("deleted block still stored")
	}
}

func TestListLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	uri := "at://did:plc:alice/app.bsky.graph.list/3klist"

	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionList, "3klist", "bafylist",
			`{"name":"gardeners","purpose":"app.bsky.graph.defs#curatelist","createdAt":"2024-05-01T12:00:00Z"}`)))

	list, err := env.lists.GetByURI(ctx, uri)
	if err != nil {
		t.Fatalf("list not stored: %v", err)
	}
	if list.Name != "gardeners" {
		t.Errorf("name = %q", list.Name)
	}
	if list.Purpose != "curatelist" {
		t.Errorf("purpose = %q, want the bare variant name", list.Purpose)
	}

	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionList, "3klist")))
	if _, err := env.lists.GetByURI(ctx, uri); err == nil {
		t.Error("deleted list still stored")
	}
	if !env.inv.sawKey(cache.ListMembersKey(uri)) {
		t.Error("list members cache not invalidated")
	}
}

func TestListItemLifecycle(t *testing.T) {
	env := newTestEnv()
	listURI := "at://did:plc:alice/app.bsky.graph.list/3klist"
	itemURI := "at://did:plc:alice/app.bsky.graph.listitem/3kitem"

	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionList, "3klist", "bafylist",
			`{"name":"gardeners","purpose":"app.bsky.graph.defs#curatelist","createdAt":"2024-05-01T12:00:00Z"}`),
		createOp(collectionListItem, "3kitem", "bafyitem",
			fmt.Sprintf(`{"subject":"did:plc:carol","list":%q,"createdAt":"2024-05-01T12:00:00Z"}`, listURI)),
	))

	item := env.items.rows[itemURI]
	if item == nil {
		t.Fatal("list item not stored")
	}
	if item.ListURI != listURI || item.SubjectDID != "did:plc:carol" {
		t.Errorf("item = %q in %q", item.SubjectDID, item.ListURI)
	}
	if env.users.get("did:plc:carol") == nil {
		t.Error("list member not materialized")
	}
	// The list itself is indexed, so no repair entry for it.
	if env.repair.has("list", "did:plc:alice", listURI) {
		t.Error("indexed list handed to repair")
	}
	if !env.inv.sawKey(cache.ListMembersKey(listURI)) {
		t.Error("list members cache not invalidated")
	}

	// An item pointing at a list we never saw schedules a fetch.
	otherList := "at://did:plc:dan/app.bsky.graph.list/3kother"
	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionListItem, "3kitem2", "bafyitem2",
			fmt.Sprintf(`{"subject":"did:plc:erin","list":%q,"createdAt":"2024-05-01T12:00:00Z"}`, otherList))))
	if !env.repair.has("list", "did:plc:dan", otherList) {
		t.Error("unknown list not handed to repair")
	}

	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionListItem, "3kitem")))
	if env.items.rows[itemURI] != nil {
		t.Error("deleted item still stored")
	}
}

func TestThreadGateLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	postURI := "at://did:plc:alice/app.bsky.feed.post/3kgated"

	// The gate shares its record key with the gated post.
	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionThreadGate, "3kgated", "bafygate1",
			fmt.Sprintf(`{"post":%q,"allow":[{"$type":"app.bsky.feed.threadgate#mentionRule"},`+
				`{"$type":"app.bsky.feed.threadgate#followingRule"}],"createdAt":"2024-05-01T12:00:00Z"}`, postURI))))

	gate, err := env.gates.GetByPostURI(ctx, postURI)
	if err != nil {
		t.Fatalf("gate not stored: %v", err)
	}
	if !gate.AllowMentions || !gate.AllowFollowing || gate.AllowListMembers {
		t.Errorf("gate rules = %+v, want mentions+following", gate)
	}
	if !env.inv.sawKey(cache.GateKey(postURI)) {
		t.Error("gate cache not invalidated")
	}
	if !env.inv.sawPattern(cache.ThreadPattern(postURI)) {
		t.Error("thread cache not invalidated")
	}

	// An update replaces the rule set wholesale.
	listURI := "at://did:plc:alice/app.bsky.graph.list/3kallow"
	mustProcess(t, env, commitEvent("did:plc:alice",
		updateOp(collectionThreadGate, "3kgated", "bafygate2",
			fmt.Sprintf(`{"post":%q,"allow":[{"$type":"app.bsky.feed.threadgate#listRule","list":%q}],`+
				`"createdAt":"2024-05-02T12:00:00Z"}`, postURI, listURI))))

	gate, err = env.gates.GetByPostURI(ctx, postURI)
	if err != nil {
		t.Fatalf("updated gate not stored: %v", err)
	}
	if gate.AllowMentions || gate.AllowFollowing || !gate.AllowListMembers {
		t.Errorf("gate rules = %+v, want list members only", gate)
	}
	if len(gate.AllowListURIs) != 1 || gate.AllowListURIs[0] != listURI {
		t.Errorf("allow lists = %v", gate.AllowListURIs)
	}
	if !env.repair.has("list", "did:plc:alice", listURI) {
		t.Error("unknown allow list not handed to repair")
	}

	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionThreadGate, "3kgated")))
	if _, err := env.gates.GetByPostURI(ctx, postURI); !errors.Is(err, posts.ErrGateNotFound) {
		t.Errorf("gate after delete: %v, want gone", err)
	}
}

func TestEmptyThreadGateStoresNoRules(t *testing.T) {
	env := newTestEnv()

	// A gate with no allow rules means nobody may reply.
	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionThreadGate, "3klocked", "bafylock",
			`{"createdAt":"2024-05-01T12:00:00Z"}`)))

	gate, err := env.gates.GetByPostURI(context.Background(), "at://did:plc:alice/app.bsky.feed.post/3klocked")
	if err != nil {
		t.Fatalf("gate not stored: %v", err)
	}
	if gate.AllowMentions || gate.AllowFollowing || gate.AllowListMembers {
		t.Errorf("gate rules = %+v, want none", gate)
	}
}

func TestProfileUpdateReplacesWholesale(t *testing.T) {
	env := newTestEnv()

	mustProcess(t, env, commitEvent("did:plc:alice",
		updateOp(collectionProfile, "self", "bafyprof1",
			`{"displayName":"Alice","description":"gardener","pinnedPost":{"uri":"at://did:plc:alice/app.bsky.feed.post/3kpin","cid":"bafypin"}}`)))

	user := env.users.get("did:plc:alice")
	if user.DisplayName != "Alice" || user.Description != "gardener" {
		t.Errorf("profile = %q/%q", user.DisplayName, user.Description)
	}
	if user.PinnedPost != "at://did:plc:alice/app.bsky.feed.post/3kpin" {
		t.Errorf("pinnedPost = %q", user.PinnedPost)
	}

	// A later record without those fields clears them: the record is
	// the whole profile.
	mustProcess(t, env, commitEvent("did:plc:alice",
		updateOp(collectionProfile, "self", "bafyprof2", `{"displayName":"Alice"}`)))

	user = env.users.get("did:plc:alice")
	if user.Description != "" || user.PinnedPost != "" {
		t.Errorf("stale fields survived: %q/%q", user.Description, user.PinnedPost)
	}
}

func TestProfileDeleteClearsDisplayFields(t *testing.T) {
	env := newTestEnv()

	mustProcess(t, env, commitEvent("did:plc:alice",
		updateOp(collectionProfile, "self", "bafyprof", `{"displayName":"Alice"}`)))
	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionProfile, "self")))

	user := env.users.get("did:plc:alice")
	if user == nil {
		t.Fatal("account row must survive profile deletion")
	}
	if user.DisplayName != "" {
		t.Errorf("displayName = %q after delete, want cleared", user.DisplayName)
	}

	// Deleting the profile of a user we never saw is a no-op.
	mustProcess(t, env, commitEvent("did:plc:stranger", deleteOp(collectionProfile, "self")))
}

func TestFeedGeneratorLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	uri := "at://did:plc:alice/app.bsky.feed.generator/whats-hot"

	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp(collectionFeedGen, "whats-hot", "bafygen",
			`{"did":"did:web:feeds.example.com","displayName":"What's Hot","createdAt":"2024-05-01T12:00:00Z"}`)))

	gen, err := env.feeds.GetByURI(ctx, uri)
	if err != nil {
		t.Fatalf("generator not stored: %v", err)
	}
	if gen.FeedDID != "did:web:feeds.example.com" {
		t.Errorf("feedDid = %q", gen.FeedDID)
	}
	if gen.DisplayName != "What's Hot" {
		t.Errorf("displayName = %q", gen.DisplayName)
	}

	// A generator record without its service DID is unusable.
	err = env.proc.ProcessRecord(ctx, "did:plc:alice",
		"at://did:plc:alice/app.bsky.feed.generator/broken", "bafyx",
		[]byte(`{"displayName":"Broken","createdAt":"2024-05-01T12:00:00Z"}`))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("want ErrMalformed for missing did, got %v", err)
	}

	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp(collectionFeedGen, "whats-hot")))
	if _, err := env.feeds.GetByURI(ctx, uri); err == nil {
		t.Error("deleted generator still stored")
	}
}

func TestGenericRecordLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	uri := "at://did:plc:alice/app.bsky.graph.starterpack/3kpack"

	record := `{"name":"gardening crew","list":"at://did:plc:alice/app.bsky.graph.list/3klist",` +
		`"createdAt":"2024-05-01T12:00:00Z"}`
	mustProcess(t, env, commitEvent("did:plc:alice",
		createOp("app.bsky.graph.starterpack", "3kpack", "bafypack", record)))

	stored, err := env.records.GetByURI(ctx, uri)
	if err != nil {
		t.Fatalf("starter pack not stored: %v", err)
	}
	if stored.Collection != "app.bsky.graph.starterpack" {
		t.Errorf("collection = %q", stored.Collection)
	}
	if string(stored.Record) != record {
		t.Error("raw record not preserved for hydration")
	}

	mustProcess(t, env, commitEvent("did:plc:alice", deleteOp("app.bsky.graph.starterpack", "3kpack")))
	if _, err := env.records.GetByURI(ctx, uri); err == nil {
		t.Error("deleted starter pack still stored")
	}
}
