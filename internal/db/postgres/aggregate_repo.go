package postgres

import (
	"Skyview/internal/core/posts"
	"context"
	"database/sql"
	"fmt"
)

type postgresAggregateRepo struct {
	db *sql.DB
}

// NewAggregateRepository creates a new PostgreSQL post aggregate repository
func NewAggregateRepository(db *sql.DB) posts.AggregateRepository {
	return &postgresAggregateRepo{db: db}
}

// increment bumps one counter column, creating the row on first touch.
// GREATEST keeps counters at zero when a delete lands for an
// interaction we never indexed.
func (r *postgresAggregateRepo) increment(ctx context.Context, column, postURI string, delta int) error {
	query := fmt.Sprintf(`
		INSERT INTO post_aggregates (post_uri, %[1]s)
		VALUES ($1, GREATEST($2, 0))
		ON CONFLICT (post_uri) DO UPDATE SET
			%[1]s = GREATEST(post_aggregates.%[1]s + $2, 0)`, column)

	if _, err := r.db.ExecContext(ctx, query, postURI, delta); err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}
	return nil
}

func (r *postgresAggregateRepo) IncrementLikes(ctx context.Context, postURI string, delta int) error {
	return r.increment(ctx, "like_count", postURI, delta)
}

func (r *postgresAggregateRepo) IncrementReposts(ctx context.Context, postURI string, delta int) error {
	return r.increment(ctx, "repost_count", postURI, delta)
}

func (r *postgresAggregateRepo) IncrementReplies(ctx context.Context, postURI string, delta int) error {
	return r.increment(ctx, "reply_count", postURI, delta)
}

// Get returns the counters for a post; a missing row reads as zeros.
func (r *postgresAggregateRepo) Get(ctx context.Context, postURI string) (*posts.Aggregate, error) {
	agg := &posts.Aggregate{PostURI: postURI}
	err := r.db.QueryRowContext(ctx,
		`SELECT like_count, repost_count, reply_count FROM post_aggregates WHERE post_uri = $1`,
		postURI).Scan(&agg.LikeCount, &agg.RepostCount, &agg.ReplyCount)
	if err == sql.ErrNoRows {
		return agg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post aggregates: %w", err)
	}
	return agg, nil
}

func (r *postgresAggregateRepo) Delete(ctx context.Context, postURI string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM post_aggregates WHERE post_uri = $1`, postURI); err != nil {
		return fmt.Errorf("failed to delete post aggregates: %w", err)
	}
	return nil
}
