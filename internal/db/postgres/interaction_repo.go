package postgres

import (
	"Skyview/internal/core/interactions"
	"context"
	"database/sql"
	"fmt"
)

type postgresLikeRepo struct {
	db *sql.DB
}

// NewLikeRepository creates a new PostgreSQL like repository
func NewLikeRepository(db *sql.DB) interactions.LikeRepository {
	return &postgresLikeRepo{db: db}
}

// Upsert writes the like. The (actor, subject) unique constraint makes
// a duplicate like from a different URI collapse onto the existing row;
// created=false tells the caller not to move aggregate counters.
func (r *postgresLikeRepo) Upsert(ctx context.Context, like *interactions.Like) (bool, error) {
	query := `
		INSERT INTO likes (uri, cid, actor_did, subject_uri, subject_cid, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (actor_did, subject_uri) DO UPDATE SET
			uri = EXCLUDED.uri,
			cid = EXCLUDED.cid,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		like.URI, like.CID, like.ActorDID, like.SubjectURI, like.SubjectCID, like.CreatedAt).
		Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert like: %w", err)
	}
	return inserted, nil
}

// Delete removes by record URI and returns the row for aggregate
// bookkeeping. ErrLikeNotFound means we never indexed it.
func (r *postgresLikeRepo) Delete(ctx context.Context, uri string) (*interactions.Like, error) {
	query := `
		DELETE FROM likes WHERE uri = $1
		RETURNING uri, cid, actor_did, subject_uri, COALESCE(subject_cid, ''), created_at, indexed_at`

	like := &interactions.Like{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&like.URI, &like.CID, &like.ActorDID, &like.SubjectURI, &like.SubjectCID,
		&like.CreatedAt, &like.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, interactions.ErrLikeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete like: %w", err)
	}
	return like, nil
}

type postgresRepostRepo struct {
	db *sql.DB
}

// NewRepostRepository creates a new PostgreSQL repost repository
func NewRepostRepository(db *sql.DB) interactions.RepostRepository {
	return &postgresRepostRepo{db: db}
}

func (r *postgresRepostRepo) Upsert(ctx context.Context, repost *interactions.Repost) (bool, error) {
	query := `
		INSERT INTO reposts (uri, cid, actor_did, subject_uri, subject_cid, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (actor_did, subject_uri) DO UPDATE SET
			uri = EXCLUDED.uri,
			cid = EXCLUDED.cid,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		repost.URI, repost.CID, repost.ActorDID, repost.SubjectURI, repost.SubjectCID, repost.CreatedAt).
		Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert repost: %w", err)
	}
	return inserted, nil
}

func (r *postgresRepostRepo) Delete(ctx context.Context, uri string) (*interactions.Repost, error) {
	query := `
		DELETE FROM reposts WHERE uri = $1
		RETURNING uri, cid, actor_did, subject_uri, COALESCE(subject_cid, ''), created_at, indexed_at`

	repost := &interactions.Repost{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&repost.URI, &repost.CID, &repost.ActorDID, &repost.SubjectURI, &repost.SubjectCID,
		&repost.CreatedAt, &repost.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, interactions.ErrRepostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete repost: %w", err)
	}
	return repost, nil
}
