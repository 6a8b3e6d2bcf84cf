// Package records stores tracked collections that have no dedicated
// table (starter packs, labeler declarations, verifications). The raw
// record JSON is kept so the read layer can hydrate views later.
package records

import (
	"encoding/json"
	"time"
)

// Collections routed into generic storage.
const (
	CollectionStarterPack  = "app.bsky.graph.starterpack"
	CollectionLabeler      = "app.bsky.labeler.service"
	CollectionVerification = "app.bsky.graph.verification"
)

// GenericRecord is any tracked record without a dedicated entity.
type GenericRecord struct {
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
	IndexedAt  time.Time       `json:"indexedAt" db:"indexed_at"`
	URI        string          `json:"uri" db:"uri"`
	CID        string          `json:"cid" db:"cid"`
	AuthorDID  string          `json:"authorDid" db:"author_did"`
	Collection string          `json:"collection" db:"collection"`
	Record     json.RawMessage `json:"record" db:"record"`
}
