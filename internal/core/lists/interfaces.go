package lists

import "context"

// ListRepository persists lists keyed by URI.
type ListRepository interface {
	Upsert(ctx context.Context, list *List) error
	GetByURI(ctx context.Context, uri string) (*List, error)
	Exists(ctx context.Context, uri string) (bool, error)
	Delete(ctx context.Context, uri string) error
}

// ListItemRepository persists list memberships. Delete returns the
// removed row so callers can invalidate the owning list's member cache.
type ListItemRepository interface {
	Upsert(ctx context.Context, item *ListItem) error
	Delete(ctx context.Context, uri string) (*ListItem, error)
}
