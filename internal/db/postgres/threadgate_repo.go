package postgres

import (
	"Skyview/internal/core/posts"
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type postgresThreadGateRepo struct {
	db *sql.DB
}

// NewThreadGateRepository creates a new PostgreSQL threadgate repository
func NewThreadGateRepository(db *sql.DB) posts.ThreadGateRepository {
	return &postgresThreadGateRepo{db: db}
}

// Upsert writes the gate keyed by post_uri so exactly one row exists
// per post regardless of how many gate record versions arrive.
func (r *postgresThreadGateRepo) Upsert(ctx context.Context, gate *posts.ThreadGate) error {
	query := `
		INSERT INTO threadgates (post_uri, uri, cid, owner_did,
			allow_mentions, allow_following, allow_list_members, allow_list_uris, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (post_uri) DO UPDATE SET
			uri = EXCLUDED.uri,
			cid = EXCLUDED.cid,
			allow_mentions = EXCLUDED.allow_mentions,
			allow_following = EXCLUDED.allow_following,
			allow_list_members = EXCLUDED.allow_list_members,
			allow_list_uris = EXCLUDED.allow_list_uris,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		gate.PostURI, gate.URI, gate.CID, gate.OwnerDID,
		gate.AllowMentions, gate.AllowFollowing, gate.AllowListMembers,
		pq.Array(gate.AllowListURIs), gate.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert threadgate: %w", err)
	}
	return nil
}

// GetByPostURI retrieves the gate for a post
func (r *postgresThreadGateRepo) GetByPostURI(ctx context.Context, postURI string) (*posts.ThreadGate, error) {
	query := `
		SELECT post_uri, uri, cid, owner_did, allow_mentions, allow_following,
			allow_list_members, allow_list_uris, created_at, indexed_at
		FROM threadgates WHERE post_uri = $1`

	gate := &posts.ThreadGate{}
	err := r.db.QueryRowContext(ctx, query, postURI).Scan(
		&gate.PostURI, &gate.URI, &gate.CID, &gate.OwnerDID,
		&gate.AllowMentions, &gate.AllowFollowing, &gate.AllowListMembers,
		pq.Array(&gate.AllowListURIs), &gate.CreatedAt, &gate.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, posts.ErrGateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get threadgate: %w", err)
	}
	return gate, nil
}

// DeleteByPostURI removes the gate for a post; missing rows are fine.
func (r *postgresThreadGateRepo) DeleteByPostURI(ctx context.Context, postURI string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM threadgates WHERE post_uri = $1`, postURI); err != nil {
		return fmt.Errorf("failed to delete threadgate: %w", err)
	}
	return nil
}
