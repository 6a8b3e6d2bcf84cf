package processor

import (
	"context"
	"strings"
	"sync"

	"Skyview/internal/atproto/identity"
	"Skyview/internal/core/feeds"
	"Skyview/internal/core/graph"
	"Skyview/internal/core/interactions"
	"Skyview/internal/core/lists"
	"Skyview/internal/core/posts"
	"Skyview/internal/core/records"
	"Skyview/internal/core/users"
)

// In-memory repository fakes. They mirror the Postgres semantics the
// processor relies on: upserts report row creation, deletes return the
// removed row or the package's not-found sentinel.

type memUsers struct {
	mu        sync.Mutex
	rows      map[string]*users.User
	ensureErr error
}

func newMemUsers() *memUsers { return &memUsers{rows: make(map[string]*users.User)} }

func (m *memUsers) get(did string) *users.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[did]
	if !ok {
		return nil
	}
	copied := *row
	return &copied
}

func (m *memUsers) Upsert(_ context.Context, u *users.User) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[u.DID]
	if !ok {
		row = &users.User{DID: u.DID, Handle: users.PlaceholderHandle, Active: true}
		m.rows[u.DID] = row
	}
	if u.Handle != "" && u.Handle != users.PlaceholderHandle {
		row.Handle = u.Handle
	}
	if u.PDSURL != "" {
		row.PDSURL = u.PDSURL
	}
	copied := *row
	return &copied, nil
}

func (m *memUsers) GetByDID(_ context.Context, did string) (*users.User, error) {
	if row := m.get(did); row != nil {
		return row, nil
	}
	return nil, users.ErrUserNotFound
}

func (m *memUsers) GetByHandle(_ context.Context, handle string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Handle == handle {
			copied := *row
			return &copied, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (m *memUsers) EnsureExists(_ context.Context, did string) (bool, error) {
	if m.ensureErr != nil {
		return false, m.ensureErr
	}
	if !strings.HasPrefix(did, "did:") {
		return false, &users.InvalidDIDError{DID: did}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[did]; ok {
		return false, nil
	}
	m.rows[did] = &users.User{DID: did, Handle: users.PlaceholderHandle, Active: true}
	return true, nil
}

func (m *memUsers) UpdateHandle(_ context.Context, did, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[did]
	if !ok {
		return users.ErrUserNotFound
	}
	row.Handle = handle
	return nil
}

func (m *memUsers) UpdateProfile(_ context.Context, did string, update users.ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[did]
	if !ok {
		return users.ErrUserNotFound
	}
	if update.DisplayName != nil {
		row.DisplayName = *update.DisplayName
	}
	if update.Description != nil {
		row.Description = *update.Description
	}
	if update.AvatarCID != nil {
		row.AvatarCID = *update.AvatarCID
	}
	if update.BannerCID != nil {
		row.BannerCID = *update.BannerCID
	}
	if update.PinnedPost != nil {
		row.PinnedPost = *update.PinnedPost
	}
	return nil
}

func (m *memUsers) UpdateAccountStatus(_ context.Context, did string, active bool, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[did]
	if !ok {
		return users.ErrUserNotFound
	}
	row.Active = active
	row.Status = status
	return nil
}

func (m *memUsers) Delete(_ context.Context, did string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, did)
	return nil
}

type memPosts struct {
	mu        sync.Mutex
	rows      map[string]*posts.Post
	upsertErr error
}

func newMemPosts() *memPosts { return &memPosts{rows: make(map[string]*posts.Post)} }

func (m *memPosts) get(uri string) *posts.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil
	}
	copied := *row
	return &copied
}

func (m *memPosts) Upsert(_ context.Context, post *posts.Post) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.rows[post.URI]
	copied := *post
	m.rows[post.URI] = &copied
	return !existed, nil
}

func (m *memPosts) GetByURI(_ context.Context, uri string) (*posts.Post, error) {
	if row := m.get(uri); row != nil {
		return row, nil
	}
	return nil, posts.ErrPostNotFound
}

func (m *memPosts) Exists(_ context.Context, uri string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[uri]
	return ok, nil
}

func (m *memPosts) Delete(_ context.Context, uri string) (*posts.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil, posts.ErrPostNotFound
	}
	delete(m.rows, uri)
	return row, nil
}

type memGates struct {
	mu   sync.Mutex
	rows map[string]*posts.ThreadGate // keyed by post URI
}

func newMemGates() *memGates { return &memGates{rows: make(map[string]*posts.ThreadGate)} }

func (m *memGates) Upsert(_ context.Context, gate *posts.ThreadGate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *gate
	m.rows[gate.PostURI] = &copied
	return nil
}

func (m *memGates) GetByPostURI(_ context.Context, postURI string) (*posts.ThreadGate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[postURI]
	if !ok {
		return nil, posts.ErrGateNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memGates) DeleteByPostURI(_ context.Context, postURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, postURI)
	return nil
}

type memAggregates struct {
	mu   sync.Mutex
	rows map[string]*posts.Aggregate
}

func newMemAggregates() *memAggregates {
	return &memAggregates{rows: make(map[string]*posts.Aggregate)}
}

func (m *memAggregates) inc(postURI string, delta int, bump func(*posts.Aggregate, int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.rows[postURI]
	if !ok {
		agg = &posts.Aggregate{PostURI: postURI}
		m.rows[postURI] = agg
	}
	bump(agg, int64(delta))
	if agg.LikeCount < 0 {
		agg.LikeCount = 0
	}
	if agg.RepostCount < 0 {
		agg.RepostCount = 0
	}
	if agg.ReplyCount < 0 {
		agg.ReplyCount = 0
	}
}

func (m *memAggregates) IncrementLikes(_ context.Context, postURI string, delta int) error {
	m.inc(postURI, delta, func(a *posts.Aggregate, d int64) { a.LikeCount += d })
	return nil
}

func (m *memAggregates) IncrementReposts(_ context.Context, postURI string, delta int) error {
	m.inc(postURI, delta, func(a *posts.Aggregate, d int64) { a.RepostCount += d })
	return nil
}

func (m *memAggregates) IncrementReplies(_ context.Context, postURI string, delta int) error {
	m.inc(postURI, delta, func(a *posts.Aggregate, d int64) { a.ReplyCount += d })
	return nil
}

func (m *memAggregates) Get(_ context.Context, postURI string) (*posts.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[postURI]
	if !ok {
		return &posts.Aggregate{PostURI: postURI}, nil
	}
	copied := *row
	return &copied, nil
}

func (m *memAggregates) Delete(_ context.Context, postURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, postURI)
	return nil
}

type memLikes struct {
	mu   sync.Mutex
	rows map[string]*interactions.Like
}

func newMemLikes() *memLikes { return &memLikes{rows: make(map[string]*interactions.Like)} }

func (m *memLikes) Upsert(_ context.Context, like *interactions.Like) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.rows[like.URI]
	copied := *like
	m.rows[like.URI] = &copied
	return !existed, nil
}

func (m *memLikes) Delete(_ context.Context, uri string) (*interactions.Like, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil, interactions.ErrLikeNotFound
	}
	delete(m.rows, uri)
	return row, nil
}

type memReposts struct {
	mu   sync.Mutex
	rows map[string]*interactions.Repost
}

func newMemReposts() *memReposts { return &memReposts{rows: make(map[string]*interactions.Repost)} }

func (m *memReposts) Upsert(_ context.Context, repost *interactions.Repost) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.rows[repost.URI]
	copied := *repost
	m.rows[repost.URI] = &copied
	return !existed, nil
}

func (m *memReposts) Delete(_ context.Context, uri string) (*interactions.Repost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil, interactions.ErrRepostNotFound
	}
	delete(m.rows, uri)
	return row, nil
}

type memFollows struct {
	mu   sync.Mutex
	rows map[string]*graph.Follow
}

func newMemFollows() *memFollows { return &memFollows{rows: make(map[string]*graph.Follow)} }

func (m *memFollows) Upsert(_ context.Context, follow *graph.Follow) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.rows[follow.URI]
	copied := *follow
	m.rows[follow.URI] = &copied
	return !existed, nil
}

func (m *memFollows) Delete(_ context.Context, uri string) (*graph.Follow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil, graph.ErrFollowNotFound
	}
	delete(m.rows, uri)
	return row, nil
}

func (m *memFollows) Exists(_ context.Context, followerDID, subjectDID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.FollowerDID == followerDID && row.SubjectDID == subjectDID {
			return true, nil
		}
	}
	return false, nil
}

type memBlocks struct {
	mu   sync.Mutex
	rows map[string]*graph.Block
}

func newMemBlocks() *memBlocks { return &memBlocks{rows: make(map[string]*graph.Block)} }

func (m *memBlocks) Upsert(_ context.Context, block *graph.Block) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.rows[block.URI]
	copied := *block
	m.rows[block.URI] = &copied
	return !existed, nil
}

func (m *memBlocks) Delete(_ context.Context, uri string) (*graph.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil, graph.ErrBlockNotFound
	}
	delete(m.rows, uri)
	return row, nil
}

type memLists struct {
	mu   sync.Mutex
	rows map[string]*lists.List
}

func newMemLists() *memLists { return &memLists{rows: make(map[string]*lists.List)} }

func (m *memLists) Upsert(_ context.Context, list *lists.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *list
	m.rows[list.URI] = &copied
	return nil
}

func (m *memLists) GetByURI(_ context.Context, uri string) (*lists.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil, lists.ErrListNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memLists) Exists(_ context.Context, uri string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[uri]
	return ok, nil
}

func (m *memLists) Delete(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, uri)
	return nil
}

type memListItems struct {
	mu   sync.Mutex
	rows map[string]*lists.ListItem
}

func newMemListItems() *memListItems { return &memListItems{rows: make(map[string]*lists.ListItem)} }

func (m *memListItems) Upsert(_ context.Context, item *lists.ListItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *item
	m.rows[item.URI] = &copied
	return nil
}

func (m *memListItems) Delete(_ context.Context, uri string) (*lists.ListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil, lists.ErrListItemNotFound
	}
	delete(m.rows, uri)
	return row, nil
}

type memFeeds struct {
	mu   sync.Mutex
	rows map[string]*feeds.FeedGenerator
}

func newMemFeeds() *memFeeds { return &memFeeds{rows: make(map[string]*feeds.FeedGenerator)} }

func (m *memFeeds) Upsert(_ context.Context, gen *feeds.FeedGenerator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *gen
	m.rows[gen.URI] = &copied
	return nil
}

func (m *memFeeds) GetByURI(_ context.Context, uri string) (*feeds.FeedGenerator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil, feeds.ErrFeedNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memFeeds) Delete(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, uri)
	return nil
}

type memRecords struct {
	mu   sync.Mutex
	rows map[string]*records.GenericRecord
}

func newMemRecords() *memRecords { return &memRecords{rows: make(map[string]*records.GenericRecord)} }

func (m *memRecords) Upsert(_ context.Context, rec *records.GenericRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rec
	m.rows[rec.URI] = &copied
	return nil
}

func (m *memRecords) GetByURI(_ context.Context, uri string) (*records.GenericRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uri]
	if !ok {
		return nil, records.ErrRecordNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memRecords) Delete(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, uri)
	return nil
}

type repairEntry struct {
	Type string
	DID  string
	URI  string
}

type fakeRepair struct {
	mu      sync.Mutex
	entries []repairEntry
}

func (f *fakeRepair) MarkIncomplete(entryType, did, uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, repairEntry{Type: entryType, DID: did, URI: uri})
}

func (f *fakeRepair) has(entryType, did, uri string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Type == entryType && e.DID == did && e.URI == uri {
			return true
		}
	}
	return false
}

type recordingInvalidator struct {
	mu       sync.Mutex
	keys     []string
	patterns []string
}

func (r *recordingInvalidator) Del(_ context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys...)
	return nil
}

func (r *recordingInvalidator) DelPattern(_ context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
	return nil
}

func (r *recordingInvalidator) sawKey(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k == key {
			return true
		}
	}
	return false
}

func (r *recordingInvalidator) sawPattern(pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.patterns {
		if p == pattern {
			return true
		}
	}
	return false
}

type stubResolver struct {
	mu      sync.Mutex
	handles map[string]string
	pds     map[string]string
	purged  []string
}

func newStubResolver() *stubResolver {
	return &stubResolver{handles: make(map[string]string), pds: make(map[string]string)}
}

func (s *stubResolver) ResolveDID(context.Context, string) *identity.DIDDocument { return nil }

func (s *stubResolver) ResolveDIDToPDS(_ context.Context, did string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pds[did]
}

func (s *stubResolver) ResolveDIDToFeedGenerator(context.Context, string) string { return "" }

func (s *stubResolver) ResolveDIDToHandle(_ context.Context, did string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[did]
}

func (s *stubResolver) ResolveHandleToDID(_ context.Context, handle string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for did, h := range s.handles {
		if h == handle {
			return did
		}
	}
	return ""
}

func (s *stubResolver) VerifyHandle(_ context.Context, did, handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[did] == handle
}

func (s *stubResolver) Purge(did string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, did)
}

func (s *stubResolver) Stats() identity.CacheStats { return identity.CacheStats{} }

// testEnv wires a Processor against the in-memory fakes.
type testEnv struct {
	proc     *Processor
	users    *memUsers
	posts    *memPosts
	gates    *memGates
	aggs     *memAggregates
	likes    *memLikes
	reposts  *memReposts
	follows  *memFollows
	blocks   *memBlocks
	lists    *memLists
	items    *memListItems
	feeds    *memFeeds
	records  *memRecords
	repair   *fakeRepair
	inv      *recordingInvalidator
	resolver *stubResolver
}

func newTestEnv() *testEnv {
	env := &testEnv{
		users:    newMemUsers(),
		posts:    newMemPosts(),
		gates:    newMemGates(),
		aggs:     newMemAggregates(),
		likes:    newMemLikes(),
		reposts:  newMemReposts(),
		follows:  newMemFollows(),
		blocks:   newMemBlocks(),
		lists:    newMemLists(),
		items:    newMemListItems(),
		feeds:    newMemFeeds(),
		records:  newMemRecords(),
		repair:   &fakeRepair{},
		inv:      &recordingInvalidator{},
		resolver: newStubResolver(),
	}
	env.proc = New(Stores{
		Users:      env.users,
		Posts:      env.posts,
		Gates:      env.gates,
		Aggregates: env.aggs,
		Likes:      env.likes,
		Reposts:    env.reposts,
		Follows:    env.follows,
		Blocks:     env.blocks,
		Lists:      env.lists,
		ListItems:  env.items,
		Feeds:      env.feeds,
		Records:    env.records,
	}, env.inv, env.repair, env.resolver)
	return env
}
