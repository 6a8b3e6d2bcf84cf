package users

import "context"

// UserRepository defines the interface for user persistence.
type UserRepository interface {
	// Upsert creates the user or refreshes handle/pds_url on conflict.
	// Profile fields set by UpdateProfile are left untouched.
	Upsert(ctx context.Context, user *User) (*User, error)

	GetByDID(ctx context.Context, did string) (*User, error)
	GetByHandle(ctx context.Context, handle string) (*User, error)

	// EnsureExists creates a placeholder row for the DID if none exists
	// and reports whether a row was inserted. Used for lazy user
	// materialization on first reference.
	EnsureExists(ctx context.Context, did string) (created bool, err error)

	UpdateHandle(ctx context.Context, did, handle string) error
	UpdateProfile(ctx context.Context, did string, update ProfileUpdate) error

	// UpdateAccountStatus records #account firehose events.
	UpdateAccountStatus(ctx context.Context, did string, active bool, status string) error

	Delete(ctx context.Context, did string) error
}
