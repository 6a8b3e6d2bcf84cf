package postgres

import (
	"Skyview/internal/core/posts"
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type postgresPostRepo struct {
	db *sql.DB
}

// NewPostRepository creates a new PostgreSQL post repository
func NewPostRepository(db *sql.DB) posts.PostRepository {
	return &postgresPostRepo{db: db}
}

// Upsert writes the post keyed by URI. Re-indexing a later commit for
// the same record overwrites every field (last write wins);
// created=false tells the caller not to move reply counters again.
func (r *postgresPostRepo) Upsert(ctx context.Context, post *posts.Post) (bool, error) {
	query := `
		INSERT INTO posts (uri, cid, author_did, text, parent_uri, parent_cid, root_uri, root_cid,
			embed_type, embed_uri, langs, labels, tags, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
			NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, $14)
		ON CONFLICT (uri) DO UPDATE SET
			cid = EXCLUDED.cid,
			text = EXCLUDED.text,
			parent_uri = EXCLUDED.parent_uri,
			parent_cid = EXCLUDED.parent_cid,
			root_uri = EXCLUDED.root_uri,
			root_cid = EXCLUDED.root_cid,
			embed_type = EXCLUDED.embed_type,
			embed_uri = EXCLUDED.embed_uri,
			langs = EXCLUDED.langs,
			labels = EXCLUDED.labels,
			tags = EXCLUDED.tags,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		post.URI, post.CID, post.AuthorDID, post.Text,
		post.ParentURI, post.ParentCID, post.RootURI, post.RootCID,
		post.EmbedType, post.EmbedURI,
		pq.Array(post.Langs), pq.Array(post.Labels), pq.Array(post.Tags),
		post.CreatedAt).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert post: %w", err)
	}
	return inserted, nil
}

// GetByURI retrieves a post by its AT-URI
func (r *postgresPostRepo) GetByURI(ctx context.Context, uri string) (*posts.Post, error) {
	query := `
		SELECT uri, cid, author_did, text, parent_uri, parent_cid, root_uri, root_cid,
			embed_type, embed_uri, langs, labels, tags, created_at, indexed_at
		FROM posts WHERE uri = $1`

	post := &posts.Post{}
	var parentURI, parentCID, rootURI, rootCID, embedType, embedURI sql.NullString
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&post.URI, &post.CID, &post.AuthorDID, &post.Text,
		&parentURI, &parentCID, &rootURI, &rootCID,
		&embedType, &embedURI,
		pq.Array(&post.Langs), pq.Array(&post.Labels), pq.Array(&post.Tags),
		&post.CreatedAt, &post.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, posts.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post by URI: %w", err)
	}
	post.ParentURI = parentURI.String
	post.ParentCID = parentCID.String
	post.RootURI = rootURI.String
	post.RootCID = rootCID.String
	post.EmbedType = embedType.String
	post.EmbedURI = embedURI.String
	return post, nil
}

// Exists reports whether a post row exists without hydrating it.
func (r *postgresPostRepo) Exists(ctx context.Context, uri string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM posts WHERE uri = $1)`, uri).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check post existence: %w", err)
	}
	return exists, nil
}

// Delete removes a post row and returns it so the caller can unwind
// reply counters. ErrPostNotFound means we never indexed it, which is
// routine for firehose deletes.
func (r *postgresPostRepo) Delete(ctx context.Context, uri string) (*posts.Post, error) {
	query := `
		DELETE FROM posts WHERE uri = $1
		RETURNING uri, cid, author_did, text,
			COALESCE(parent_uri, ''), COALESCE(parent_cid, ''),
			COALESCE(root_uri, ''), COALESCE(root_cid, ''),
			created_at, indexed_at`

	post := &posts.Post{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&post.URI, &post.CID, &post.AuthorDID, &post.Text,
		&post.ParentURI, &post.ParentCID, &post.RootURI, &post.RootCID,
		&post.CreatedAt, &post.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, posts.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete post: %w", err)
	}
	return post, nil
}
