package posts

import (
	"time"
)

// Post is a materialized app.bsky.feed.post record.
type Post struct {
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	IndexedAt time.Time `json:"indexedAt" db:"indexed_at"`
	URI       string    `json:"uri" db:"uri"`
	CID       string    `json:"cid" db:"cid"`
	AuthorDID string    `json:"authorDid" db:"author_did"`
	Text      string    `json:"text" db:"text"`

	// Reply references. A top-level post has neither; a reply carries
	// both, and root must point at a post whose own parent is null.
	ParentURI string `json:"parentUri,omitempty" db:"parent_uri"`
	ParentCID string `json:"parentCid,omitempty" db:"parent_cid"`
	RootURI   string `json:"rootUri,omitempty" db:"root_uri"`
	RootCID   string `json:"rootCid,omitempty" db:"root_cid"`

	EmbedType string   `json:"embedType,omitempty" db:"embed_type"`
	EmbedURI  string   `json:"embedUri,omitempty" db:"embed_uri"`
	Langs     []string `json:"langs,omitempty" db:"langs"`
	Labels    []string `json:"labels,omitempty" db:"labels"`
	Tags      []string `json:"tags,omitempty" db:"tags"`
}

// IsReply reports whether the post carries reply references.
func (p *Post) IsReply() bool {
	return p.ParentURI != "" || p.RootURI != ""
}

// ThreadGate restricts who may reply to a post. Exactly one row per
// post; upserts replace the whole rule set.
type ThreadGate struct {
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
	IndexedAt        time.Time `json:"indexedAt" db:"indexed_at"`
	URI              string    `json:"uri" db:"uri"`
	CID              string    `json:"cid" db:"cid"`
	PostURI          string    `json:"postUri" db:"post_uri"`
	OwnerDID         string    `json:"ownerDid" db:"owner_did"`
	AllowMentions    bool      `json:"allowMentions" db:"allow_mentions"`
	AllowFollowing   bool      `json:"allowFollowing" db:"allow_following"`
	AllowListMembers bool      `json:"allowListMembers" db:"allow_list_members"`
	AllowListURIs    []string  `json:"allowListUris,omitempty" db:"allow_list_uris"`
}

// Aggregate carries denormalized per-post counters maintained
// incrementally by the event processor.
type Aggregate struct {
	PostURI     string `json:"postUri" db:"post_uri"`
	LikeCount   int64  `json:"likeCount" db:"like_count"`
	RepostCount int64  `json:"repostCount" db:"repost_count"`
	ReplyCount  int64  `json:"replyCount" db:"reply_count"`
}
