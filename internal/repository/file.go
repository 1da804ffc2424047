// Package repository wraps all SQL used by the API and worker.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftwell/inkvault/internal/model"
)

// ErrNotFound is returned when no row matches the requested file.
var ErrNotFound = errors.New("file not found")

const fileColumns = `id, tenant_id, owner_type, owner_id, storage_key, thumbnail_key,
	file_name, mime_type, size_bytes, extracted_text, text_truncated, extraction_failed,
	created_at, updated_at`

// FileRepository persists file records in postgres.
type FileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository constructs a repository.
func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// Create inserts a freshly ingested file record.
func (r *FileRepository) Create(ctx context.Context, rec *model.FileRecord) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO files (id, tenant_id, owner_type, owner_id, storage_key, thumbnail_key,
			file_name, mime_type, size_bytes, extracted_text, text_truncated, extraction_failed,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, rec.ID, rec.TenantID, rec.OwnerType, rec.OwnerID, rec.StorageKey, rec.ThumbnailKey,
		rec.Filename, rec.MimeType, rec.SizeBytes, rec.ExtractedText, rec.TextTruncated,
		rec.ExtractionFailed, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// Get returns one file scoped to its tenant.
func (r *FileRepository) Get(ctx context.Context, tenantID, id string) (*model.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+fileColumns+`
		FROM files WHERE tenant_id=$1 AND id=$2
	`, tenantID, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select file: %w", err)
	}
	return rec, nil
}

// ListByOwner returns every file attached to one owning entity, newest first.
func (r *FileRepository) ListByOwner(ctx context.Context, tenantID string, ownerType model.OwnerType, ownerID string) ([]model.FileRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files WHERE tenant_id=$1 AND owner_type=$2 AND owner_id=$3
		ORDER BY created_at DESC
	`, tenantID, ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select files by owner: %w", err)
	}
	defer rows.Close()

	var recs []model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return recs, nil
}

// ListKeysByOwner returns the storage and thumbnail keys of an owner's files,
// the set a cleanup job has to delete from the object store.
func (r *FileRepository) ListKeysByOwner(ctx context.Context, tenantID string, ownerType model.OwnerType, ownerID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT storage_key, thumbnail_key
		FROM files WHERE tenant_id=$1 AND owner_type=$2 AND owner_id=$3
	`, tenantID, ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select keys by owner: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var (
			storageKey   string
			thumbnailKey sql.NullString
		)
		if err := rows.Scan(&storageKey, &thumbnailKey); err != nil {
			return nil, fmt.Errorf("scan keys: %w", err)
		}
		keys = append(keys, storageKey)
		if thumbnailKey.Valid {
			keys = append(keys, thumbnailKey.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Delete removes one file row.
func (r *FileRepository) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteByOwner removes every file row attached to one owning entity and
// reports how many were deleted.
func (r *FileRepository) DeleteByOwner(ctx context.Context, tenantID string, ownerType model.OwnerType, ownerID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM files WHERE tenant_id=$1 AND owner_type=$2 AND owner_id=$3
	`, tenantID, ownerType, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete files by owner: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkExtracted backfills extraction output after a retry succeeds.
func (r *FileRepository) MarkExtracted(ctx context.Context, tenantID, id, text string, truncated bool) error {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE files
		SET extracted_text=$1,
			text_truncated=$2,
			extraction_failed=FALSE,
			updated_at=$3
		WHERE tenant_id=$4 AND id=$5
	`, text, truncated, now, tenantID, id)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanRecord(row pgx.Row) (*model.FileRecord, error) {
	var (
		rec           model.FileRecord
		thumbnailKey  sql.NullString
		extractedText sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.OwnerType, &rec.OwnerID, &rec.StorageKey,
		&thumbnailKey, &rec.Filename, &rec.MimeType, &rec.SizeBytes, &extractedText,
		&rec.TextTruncated, &rec.ExtractionFailed, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if thumbnailKey.Valid {
		key := thumbnailKey.String
		rec.ThumbnailKey = &key
	}
	if extractedText.Valid {
		text := extractedText.String
		rec.ExtractedText = &text
	}
	return &rec, nil
}
