package posts

import "context"

// PostRepository defines the interface for post persistence.
// All writes are idempotent upserts keyed by URI so re-indexing a
// later commit for the same record is a plain overwrite.
type PostRepository interface {
	// Upsert writes the post and reports whether a new row was created
	// (false means a re-index; reply counters must not move again).
	Upsert(ctx context.Context, post *Post) (created bool, err error)

	GetByURI(ctx context.Context, uri string) (*Post, error)
	Exists(ctx context.Context, uri string) (bool, error)

	// Delete removes by URI and returns the deleted row so the caller
	// can decrement the parent's reply counter. ErrPostNotFound means
	// we never indexed it.
	Delete(ctx context.Context, uri string) (*Post, error)
}

// ThreadGateRepository persists reply gates, one row per post.
type ThreadGateRepository interface {
	Upsert(ctx context.Context, gate *ThreadGate) error
	GetByPostURI(ctx context.Context, postURI string) (*ThreadGate, error)
	DeleteByPostURI(ctx context.Context, postURI string) error
}

// AggregateRepository maintains per-post like/repost/reply counters.
// Decrements clamp at zero; rows are created on first increment.
type AggregateRepository interface {
	IncrementLikes(ctx context.Context, postURI string, delta int) error
	IncrementReposts(ctx context.Context, postURI string, delta int) error
	IncrementReplies(ctx context.Context, postURI string, delta int) error
	Get(ctx context.Context, postURI string) (*Aggregate, error)
	Delete(ctx context.Context, postURI string) error
}
