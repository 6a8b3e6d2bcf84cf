package records

import "context"

// GenericRecordRepository persists unmodeled-but-tracked records
// keyed by URI.
type GenericRecordRepository interface {
	Upsert(ctx context.Context, rec *GenericRecord) error
	GetByURI(ctx context.Context, uri string) (*GenericRecord, error)
	Delete(ctx context.Context, uri string) error
}
