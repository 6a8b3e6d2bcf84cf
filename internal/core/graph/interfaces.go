package graph

import "context"

// FollowRepository persists follows keyed by URI with a unique
// (follower, subject) constraint.
type FollowRepository interface {
	Upsert(ctx context.Context, follow *Follow) (created bool, err error)
	Delete(ctx context.Context, uri string) (*Follow, error)
	Exists(ctx context.Context, followerDID, subjectDID string) (bool, error)
}

// BlockRepository persists blocks with the same keying as follows.
type BlockRepository interface {
	Upsert(ctx context.Context, block *Block) (created bool, err error)
	Delete(ctx context.Context, uri string) (*Block, error)
}
