package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chin-flags/fixapp/internal/domain/file"
)

const fileColumns = `id, tenant_id, storage_key, original_filename, file_size, content_type,
	resource_type, resource_id, uploaded_by, created_at, updated_at, deleted_at`

func scanFile(row scannable) (file.File, error) {
	var (
		f                        file.File
		resourceType, resourceID *string
	)
	err := row.Scan(&f.ID, &f.TenantID, &f.StorageKey, &f.OriginalFilename, &f.FileSize, &f.ContentType,
		&resourceType, &resourceID, &f.UploadedBy, &f.CreatedAt, &f.UpdatedAt, &f.DeletedAt)
	f.ResourceType = derefString(resourceType)
	f.ResourceID = derefString(resourceID)
	return f, err
}

func (s *Store) CreateFile(ctx context.Context, f *file.File) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (id, tenant_id, storage_key, original_filename, file_size, content_type,
			resource_type, resource_id, uploaded_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ID, f.TenantID, f.StorageKey, f.OriginalFilename, f.FileSize, f.ContentType,
		nullIfEmpty(f.ResourceType), nullIfEmpty(f.ResourceID), f.UploadedBy, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return writeErr(err, "create file %s", f.ID)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, tenantID, id string) (*file.File, error) {
	f, err := scanFile(s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID))
	if err != nil {
		return nil, notFoundWrap(err, "get file %s", id)
	}
	return &f, nil
}

// ListFiles returns the live files of a tenant, newest first. Empty filter
// fields match everything.
func (s *Store) ListFiles(ctx context.Context, tenantID string, filter file.ListFilter) ([]file.File, error) {
	var (
		where = []string{"tenant_id = $1", "deleted_at IS NULL"}
		args  = []any{tenantID}
	)
	if filter.ResourceType != "" {
		args = append(args, filter.ResourceType)
		where = append(where, fmt.Sprintf("resource_type = $%d", len(args)))
	}
	if filter.ResourceID != "" {
		args = append(args, filter.ResourceID)
		where = append(where, fmt.Sprintf("resource_id = $%d", len(args)))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []file.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return orEmpty(files), rows.Err()
}

func (s *Store) SoftDeleteFile(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE files SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	return execExpectOne(tag, err, "delete file %s", id)
}
