package postgres

import (
	"Skyview/internal/core/feeds"
	"context"
	"database/sql"
	"fmt"
)

type postgresFeedGenRepo struct {
	db *sql.DB
}

// NewFeedGeneratorRepository creates a new PostgreSQL feed generator repository
func NewFeedGeneratorRepository(db *sql.DB) feeds.FeedGeneratorRepository {
	return &postgresFeedGenRepo{db: db}
}

func (r *postgresFeedGenRepo) Upsert(ctx context.Context, gen *feeds.FeedGenerator) error {
	query := `
		INSERT INTO feed_generators (uri, cid, creator_did, feed_did, display_name, description, avatar_cid, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		ON CONFLICT (uri) DO UPDATE SET
			cid = EXCLUDED.cid,
			feed_did = EXCLUDED.feed_did,
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			avatar_cid = EXCLUDED.avatar_cid,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		gen.URI, gen.CID, gen.CreatorDID, gen.FeedDID, gen.DisplayName,
		gen.Description, gen.AvatarCID, gen.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert feed generator: %w", err)
	}
	return nil
}

func (r *postgresFeedGenRepo) GetByURI(ctx context.Context, uri string) (*feeds.FeedGenerator, error) {
	query := `
		SELECT uri, cid, creator_did, feed_did, display_name, COALESCE(description, ''),
			COALESCE(avatar_cid, ''), created_at, indexed_at
		FROM feed_generators WHERE uri = $1`

	gen := &feeds.FeedGenerator{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&gen.URI, &gen.CID, &gen.CreatorDID, &gen.FeedDID, &gen.DisplayName,
		&gen.Description, &gen.AvatarCID, &gen.CreatedAt, &gen.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, feeds.ErrFeedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed generator: %w", err)
	}
	return gen, nil
}

func (r *postgresFeedGenRepo) Delete(ctx context.Context, uri string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM feed_generators WHERE uri = $1`, uri); err != nil {
		return fmt.Errorf("failed to delete feed generator: %w", err)
	}
	return nil
}
