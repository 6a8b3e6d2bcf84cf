// Package lists holds curation and moderation lists plus their
// membership tuples.
package lists

import "time"

// List is a materialized app.bsky.graph.list record.
type List struct {
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	IndexedAt   time.Time `json:"indexedAt" db:"indexed_at"`
	URI         string    `json:"uri" db:"uri"`
	CID         string    `json:"cid" db:"cid"`
	CreatorDID  string    `json:"creatorDid" db:"creator_did"`
	Name        string    `json:"name" db:"name"`
	Purpose     string    `json:"purpose" db:"purpose"` // curatelist, modlist
	Description string    `json:"description,omitempty" db:"description"`
	AvatarCID   string    `json:"avatarCid,omitempty" db:"avatar_cid"`
}

// ListItem is a materialized app.bsky.graph.listitem record binding a
// subject DID into a list.
type ListItem struct {
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	IndexedAt  time.Time `json:"indexedAt" db:"indexed_at"`
	URI        string    `json:"uri" db:"uri"`
	CID        string    `json:"cid" db:"cid"`
	ListURI    string    `json:"listUri" db:"list_uri"`
	SubjectDID string    `json:"subjectDid" db:"subject_did"`
}
