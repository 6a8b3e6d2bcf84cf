// Package interactions holds like and repost records. Both are thin
// (actor, subject) tuples with a one-per-pair uniqueness rule enforced
// by storage.
package interactions

import "time"

// Like is a materialized app.bsky.feed.like record.
type Like struct {
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	IndexedAt  time.Time `json:"indexedAt" db:"indexed_at"`
	URI        string    `json:"uri" db:"uri"`
	CID        string    `json:"cid" db:"cid"`
	ActorDID   string    `json:"actorDid" db:"actor_did"`
	SubjectURI string    `json:"subjectUri" db:"subject_uri"`
	SubjectCID string    `json:"subjectCid" db:"subject_cid"`
}

// Repost is a materialized app.bsky.feed.repost record.
type Repost struct {
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	IndexedAt  time.Time `json:"indexedAt" db:"indexed_at"`
	URI        string    `json:"uri" db:"uri"`
	CID        string    `json:"cid" db:"cid"`
	ActorDID   string    `json:"actorDid" db:"actor_did"`
	SubjectURI string    `json:"subjectUri" db:"subject_uri"`
	SubjectCID string    `json:"subjectCid" db:"subject_cid"`
}
