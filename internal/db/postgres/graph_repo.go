package postgres

import (
	"Skyview/internal/core/graph"
	"context"
	"database/sql"
	"fmt"
)

type postgresFollowRepo struct {
	db *sql.DB
}

// NewFollowRepository creates a new PostgreSQL follow repository
func NewFollowRepository(db *sql.DB) graph.FollowRepository {
	return &postgresFollowRepo{db: db}
}

func (r *postgresFollowRepo) Upsert(ctx context.Context, follow *graph.Follow) (bool, error) {
	if follow.FollowerDID == follow.SubjectDID {
		return false, &graph.SelfReferenceError{DID: follow.FollowerDID}
	}

	query := `
		INSERT INTO follows (uri, cid, follower_did, subject_did, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (follower_did, subject_did) DO UPDATE SET
			uri = EXCLUDED.uri,
			cid = EXCLUDED.cid,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		follow.URI, follow.CID, follow.FollowerDID, follow.SubjectDID, follow.CreatedAt).
		Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert follow: %w", err)
	}
	return inserted, nil
}

func (r *postgresFollowRepo) Delete(ctx context.Context, uri string) (*graph.Follow, error) {
	query := `
		DELETE FROM follows WHERE uri = $1
		RETURNING uri, cid, follower_did, subject_did, created_at, indexed_at`

	follow := &graph.Follow{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&follow.URI, &follow.CID, &follow.FollowerDID, &follow.SubjectDID,
		&follow.CreatedAt, &follow.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, graph.ErrFollowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete follow: %w", err)
	}
	return follow, nil
}

func (r *postgresFollowRepo) Exists(ctx context.Context, followerDID, subjectDID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM follows WHERE follower_did = $1 AND subject_did = $2)`,
		followerDID, subjectDID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check follow existence: %w", err)
	}
	return exists, nil
}

type postgresBlockRepo struct {
	db *sql.DB
}

// NewBlockRepository creates a new PostgreSQL block repository
func NewBlockRepository(db *sql.DB) graph.BlockRepository {
	return &postgresBlockRepo{db: db}
}

func (r *postgresBlockRepo) Upsert(ctx context.Context, block *graph.Block) (bool, error) {
	query := `
		INSERT INTO blocks (uri, cid, actor_did, subject_did, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (actor_did, subject_did) DO UPDATE SET
			uri = EXCLUDED.uri,
			cid = EXCLUDED.cid,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		block.URI, block.CID, block.ActorDID, block.SubjectDID, block.CreatedAt).
		Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert block: %w", err)
	}
	return inserted, nil
}

func (r *postgresBlockRepo) Delete(ctx context.Context, uri string) (*graph.Block, error) {
	query := `
		DELETE FROM blocks WHERE uri = $1
		RETURNING uri, cid, actor_did, subject_did, created_at, indexed_at`

	block := &graph.Block{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&block.URI, &block.CID, &block.ActorDID, &block.SubjectDID,
		&block.CreatedAt, &block.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, graph.ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete block: %w", err)
	}
	return block, nil
}
