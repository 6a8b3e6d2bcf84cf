// Package feeds holds feed generator declarations indexed from
// app.bsky.feed.generator records.
package feeds

import "time"

// FeedGenerator is a materialized feed declaration. FeedDID is the
// service DID the generator answers getFeedSkeleton on; it is resolved
// to an endpoint through the identity resolver at query time.
type FeedGenerator struct {
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	IndexedAt   time.Time `json:"indexedAt" db:"indexed_at"`
	URI         string    `json:"uri" db:"uri"`
	CID         string    `json:"cid" db:"cid"`
	CreatorDID  string    `json:"creatorDid" db:"creator_did"`
	FeedDID     string    `json:"feedDid" db:"feed_did"`
	DisplayName string    `json:"displayName" db:"display_name"`
	Description string    `json:"description,omitempty" db:"description"`
	AvatarCID   string    `json:"avatarCid,omitempty" db:"avatar_cid"`
}
