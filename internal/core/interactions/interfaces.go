package interactions

import "context"

// LikeRepository persists likes. Upsert is keyed by URI; the
// (actor, subject) pair carries a unique constraint so a duplicate
// like from a re-indexed commit collapses to one row.
type LikeRepository interface {
	// Upsert writes the like and reports whether a new row was created
	// (false means the like already existed and counters must not move).
	Upsert(ctx context.Context, like *Like) (created bool, err error)

	// Delete removes by record URI and returns the deleted row so the
	// caller can decrement the subject's aggregate.
	Delete(ctx context.Context, uri string) (*Like, error)
}

// RepostRepository persists reposts with the same semantics as likes.
type RepostRepository interface {
	Upsert(ctx context.Context, repost *Repost) (created bool, err error)
	Delete(ctx context.Context, uri string) (*Repost, error)
}
