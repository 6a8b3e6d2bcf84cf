// Package graph holds the social graph records: follows and blocks.
package graph

import "time"

// Follow is a materialized app.bsky.graph.follow record. One row per
// ordered (follower, subject) pair; self-follows are rejected upstream.
type Follow struct {
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	IndexedAt   time.Time `json:"indexedAt" db:"indexed_at"`
	URI         string    `json:"uri" db:"uri"`
	CID         string    `json:"cid" db:"cid"`
	FollowerDID string    `json:"followerDid" db:"follower_did"`
	SubjectDID  string    `json:"subjectDid" db:"subject_did"`
}

// Block is a materialized app.bsky.graph.block record.
type Block struct {
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	IndexedAt  time.Time `json:"indexedAt" db:"indexed_at"`
	URI        string    `json:"uri" db:"uri"`
	CID        string    `json:"cid" db:"cid"`
	ActorDID   string    `json:"actorDid" db:"actor_did"`
	SubjectDID string    `json:"subjectDid" db:"subject_did"`
}
