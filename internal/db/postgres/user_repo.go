package postgres

import (
	"Skyview/internal/core/users"
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type postgresUserRepo struct {
	db *sql.DB
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sql.DB) users.UserRepository {
	return &postgresUserRepo{db: db}
}

const userColumns = `did, handle, display_name, description, avatar_cid, banner_cid, pinned_post_uri, pds_url, active, status, created_at, indexed_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*users.User, error) {
	user := &users.User{}
	var displayName, description, avatarCID, bannerCID, pinnedPost, pdsURL, status sql.NullString
	err := row.Scan(&user.DID, &user.Handle, &displayName, &description, &avatarCID,
		&bannerCID, &pinnedPost, &pdsURL, &user.Active, &status,
		&user.CreatedAt, &user.IndexedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.DisplayName = displayName.String
	user.Description = description.String
	user.AvatarCID = avatarCID.String
	user.BannerCID = bannerCID.String
	user.PinnedPost = pinnedPost.String
	user.PDSURL = pdsURL.String
	user.Status = status.String
	return user, nil
}

// Upsert creates the user or refreshes handle/pds_url. Profile fields
// are owned by UpdateProfile and never touched here so a late identity
// event cannot wipe an already-fetched profile.
func (r *postgresUserRepo) Upsert(ctx context.Context, user *users.User) (*users.User, error) {
	if !strings.HasPrefix(user.DID, "did:") {
		return nil, &users.InvalidDIDError{DID: user.DID}
	}
	handle := user.Handle
	if handle == "" {
		handle = users.PlaceholderHandle
	}

	query := `
		INSERT INTO users (did, handle, pds_url)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (did) DO UPDATE SET
			handle = CASE WHEN EXCLUDED.handle <> 'handle.invalid' THEN EXCLUDED.handle ELSE users.handle END,
			pds_url = COALESCE(EXCLUDED.pds_url, users.pds_url),
			updated_at = NOW()
		RETURNING ` + userColumns

	updated, err := scanUser(r.db.QueryRowContext(ctx, query, user.DID, handle, user.PDSURL))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return updated, nil
}

// GetByDID retrieves a user by their DID
func (r *postgresUserRepo) GetByDID(ctx context.Context, did string) (*users.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE did = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, did))
	if err == sql.ErrNoRows {
		return nil, users.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by DID: %w", err)
	}
	return user, nil
}

// GetByHandle retrieves a user by their handle. Placeholder handles are
// shared by many rows and cannot be looked up this way.
func (r *postgresUserRepo) GetByHandle(ctx context.Context, handle string) (*users.User, error) {
	handle = users.NormalizeHandle(handle)
	if handle == "" || handle == users.PlaceholderHandle {
		return nil, users.ErrUserNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE handle = $1 ORDER BY updated_at DESC LIMIT 1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, handle))
	if err == sql.ErrNoRows {
		return nil, users.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by handle: %w", err)
	}
	return user, nil
}

// EnsureExists lazily materializes a placeholder row for a DID seen in
// a record reference before its profile or identity event.
func (r *postgresUserRepo) EnsureExists(ctx context.Context, did string) (bool, error) {
	if !strings.HasPrefix(did, "did:") {
		return false, &users.InvalidDIDError{DID: did}
	}

	query := `
		INSERT INTO users (did, handle)
		VALUES ($1, $2)
		ON CONFLICT (did) DO NOTHING
		RETURNING did`

	var inserted string
	err := r.db.QueryRowContext(ctx, query, did, users.PlaceholderHandle).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to ensure user exists: %w", err)
	}
	return true, nil
}

// UpdateHandle updates the handle for a user with the given DID
func (r *postgresUserRepo) UpdateHandle(ctx context.Context, did, handle string) error {
	handle = users.NormalizeHandle(handle)
	if handle == "" {
		handle = users.PlaceholderHandle
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET handle = $2, updated_at = NOW() WHERE did = $1`, did, handle)
	if err != nil {
		return fmt.Errorf("failed to update handle: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

// UpdateProfile updates profile fields from an actor profile record.
// Nil pointers mean "don't change this field"; empty strings clear.
func (r *postgresUserRepo) UpdateProfile(ctx context.Context, did string, update users.ProfileUpdate) error {
	setClauses := []string{"updated_at = NOW()"}
	args := []interface{}{}
	argNum := 1

	addSet := func(column string, value *string) {
		if value == nil {
			return
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = NULLIF($%d, '')", column, argNum))
		args = append(args, *value)
		argNum++
	}
	addSet("display_name", update.DisplayName)
	addSet("description", update.Description)
	addSet("avatar_cid", update.AvatarCID)
	addSet("banner_cid", update.BannerCID)
	addSet("pinned_post_uri", update.PinnedPost)

	args = append(args, did)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE did = $%d`,
		strings.Join(setClauses, ", "), argNum)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

// UpdateAccountStatus records account lifecycle changes from the
// firehose (takedowns, suspensions, deactivations).
func (r *postgresUserRepo) UpdateAccountStatus(ctx context.Context, did string, active bool, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET active = $2, status = NULLIF($3, ''), updated_at = NOW() WHERE did = $1`,
		did, active, status)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

// Delete removes a user row. Dependent records carry no FK back to
// users (the firehose can deliver them in any order), so this only
// clears the identity row itself.
func (r *postgresUserRepo) Delete(ctx context.Context, did string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE did = $1`, did)
	if err != nil {
		return fmt.Errorf("failed to delete user did=%s: %w", did, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for did=%s: %w", did, err)
	}
	if rows == 0 {
		return users.ErrUserNotFound
	}
	return nil
}
