package postgres

import (
	"Skyview/internal/core/records"
	"context"
	"database/sql"
	"fmt"
)

type postgresRecordRepo struct {
	db *sql.DB
}

// NewGenericRecordRepository creates a new PostgreSQL generic record repository
func NewGenericRecordRepository(db *sql.DB) records.GenericRecordRepository {
	return &postgresRecordRepo{db: db}
}

func (r *postgresRecordRepo) Upsert(ctx context.Context, rec *records.GenericRecord) error {
	query := `
		INSERT INTO generic_records (uri, cid, author_did, collection, record, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uri) DO UPDATE SET
			cid = EXCLUDED.cid,
			record = EXCLUDED.record,
			created_at = EXCLUDED.created_at,
			indexed_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		rec.URI, rec.CID, rec.AuthorDID, rec.Collection, []byte(rec.Record), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert generic record: %w", err)
	}
	return nil
}

func (r *postgresRecordRepo) GetByURI(ctx context.Context, uri string) (*records.GenericRecord, error) {
	query := `
		SELECT uri, cid, author_did, collection, record, created_at, indexed_at
		FROM generic_records WHERE uri = $1`

	rec := &records.GenericRecord{}
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&rec.URI, &rec.CID, &rec.AuthorDID, &rec.Collection, &raw,
		&rec.CreatedAt, &rec.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, records.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generic record: %w", err)
	}
	rec.Record = raw
	return rec, nil
}

func (r *postgresRecordRepo) Delete(ctx context.Context, uri string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM generic_records WHERE uri = $1`, uri); err != nil {
		return fmt.Errorf("failed to delete generic record: %w", err)
	}
	return nil
}
