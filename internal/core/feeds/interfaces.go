package feeds

import "context"

// FeedGeneratorRepository persists feed declarations keyed by URI.
type FeedGeneratorRepository interface {
	Upsert(ctx context.Context, gen *FeedGenerator) error
	GetByURI(ctx context.Context, uri string) (*FeedGenerator, error)
	Delete(ctx context.Context, uri string) error
}
