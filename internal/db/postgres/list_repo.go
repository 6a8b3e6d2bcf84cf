package postgres

import (
	"Skyview/internal/core/lists"
	"context"
	"database/sql"
	"fmt"
)

type postgresListRepo struct {
	db *sql.DB
}

// NewListRepository creates a new PostgreSQL list repository
func NewListRepository(db *sql.DB) lists.ListRepository {
	return &postgresListRepo{db: db}
}

func (r *postgresListRepo) Upsert(ctx context.Context, list *lists.List) error {
	query := `
		INSERT INTO lists (uri, cid, creator_did, name, purpose, description, avatar_cid, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)
		ON CONFLICT (uri) DO UPDATE SET
			cid = EXCLUDED.cid,
			name = EXCLUDED.name,
			purpose = EXCLUDED.purpose,
			description = EXCLUDED.description,
			avatar_cid = EXCLUDED.avatar_cid,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		list.URI, list.CID, list.CreatorDID, list.Name, list.Purpose,
		list.Description, list.AvatarCID, list.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert list: %w", err)
	}
	return nil
}

func (r *postgresListRepo) GetByURI(ctx context.Context, uri string) (*lists.List, error) {
	query := `
		SELECT uri, cid, creator_did, name, COALESCE(purpose, ''), COALESCE(description, ''),
			COALESCE(avatar_cid, ''), created_at, indexed_at
		FROM lists WHERE uri = $1`

	list := &lists.List{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&list.URI, &list.CID, &list.CreatorDID, &list.Name, &list.Purpose,
		&list.Description, &list.AvatarCID, &list.CreatedAt, &list.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, lists.ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return list, nil
}

func (r *postgresListRepo) Exists(ctx context.Context, uri string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM lists WHERE uri = $1)`, uri).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check list existence: %w", err)
	}
	return exists, nil
}

// Delete removes the list and its membership rows in one transaction.
func (r *postgresListRepo) Delete(ctx context.Context, uri string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE list_uri = $1`, uri); err != nil {
		return fmt.Errorf("failed to delete list items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE uri = $1`, uri); err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit list delete: %w", err)
	}
	return nil
}

type postgresListItemRepo struct {
	db *sql.DB
}

// NewListItemRepository creates a new PostgreSQL list item repository
func NewListItemRepository(db *sql.DB) lists.ListItemRepository {
	return &postgresListItemRepo{db: db}
}

func (r *postgresListItemRepo) Upsert(ctx context.Context, item *lists.ListItem) error {
	query := `
		INSERT INTO list_items (uri, cid, list_uri, subject_did, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (list_uri, subject_did) DO UPDATE SET
			uri = EXCLUDED.uri,
			cid = EXCLUDED.cid,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		item.URI, item.CID, item.ListURI, item.SubjectDID, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert list item: %w", err)
	}
	return nil
}

func (r *postgresListItemRepo) Delete(ctx context.Context, uri string) (*lists.ListItem, error) {
	query := `
		DELETE FROM list_items WHERE uri = $1
		RETURNING uri, cid, list_uri, subject_did, created_at, indexed_at`

	item := &lists.ListItem{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&item.URI, &item.CID, &item.ListURI, &item.SubjectDID,
		&item.CreatedAt, &item.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, lists.ErrListItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete list item: %w", err)
	}
	return item, nil
}
