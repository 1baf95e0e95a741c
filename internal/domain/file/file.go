// Package file defines uploaded file metadata and the blob key layout.
package file

import (
	"strings"
	"time"

	"github.com/chin-flags/fixapp/internal/domain"
)

const (
	MaxPhotoSize    int64 = 10 << 20 // 10 MB
	MaxDocumentSize int64 = 25 << 20 // 25 MB
)

// extensions maps allowed content types to their key extension.
var extensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/heic":      "heic",
	"application/pdf": "pdf",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       "xlsx",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
}

// Schema is the persistence metadata of the files table.
var Schema = domain.Schema{
	Table: "files",
	Columns: []string{
		"id", "tenant_id", "storage_key", "original_filename", "file_size",
		"content_type", "resource_type", "resource_id", "uploaded_by",
		"created_at", "updated_at", "deleted_at",
	},
}

// File is the metadata of an object stored in the blob store.
type File struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenantId"`
	StorageKey       string     `json:"storageKey"`
	OriginalFilename string     `json:"originalFilename"`
	FileSize         int64      `json:"fileSize"`
	ContentType      string     `json:"contentType"`
	ResourceType     string     `json:"resourceType,omitempty"`
	ResourceID       string     `json:"resourceId,omitempty"`
	UploadedBy       string     `json:"uploadedBy"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
}

func (f *File) EntitySchema() domain.Schema { return Schema }
func (f *File) OwnerTenant() string         { return f.TenantID }
func (f *File) AssignTenant(id string)      { f.TenantID = id }

// UploadRequest asks for a presigned upload URL.
type UploadRequest struct {
	Filename     string `json:"filename"`
	ContentType  string `json:"contentType"`
	FileSize     int64  `json:"fileSize"`
	ResourceType string `json:"resourceType,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
}

// Validate checks the content type against the allow list and the size
// against the per-kind limit.
func (r *UploadRequest) Validate() error {
	if r.Filename == "" {
		return domain.Validationf("filename is required")
	}
	if r.FileSize <= 0 {
		return domain.Validationf("fileSize must be positive")
	}
	if _, ok := extensions[r.ContentType]; !ok {
		return domain.Validationf("Unsupported file type: %s. Allowed types: %s", r.ContentType, strings.Join(AllowedTypes(), ", "))
	}
	if IsImage(r.ContentType) && r.FileSize > MaxPhotoSize {
		return domain.Validationf("Photo size exceeds limit of %dMB", MaxPhotoSize>>20)
	}
	if !IsImage(r.ContentType) && r.FileSize > MaxDocumentSize {
		return domain.Validationf("Document size exceeds limit of %dMB", MaxDocumentSize>>20)
	}
	return validateSegment("resourceType", r.ResourceType)
}

// UploadTicket is returned to the client before it uploads to the blob store.
type UploadTicket struct {
	UploadURL  string `json:"uploadUrl"`
	FileID     string `json:"fileId"`
	StorageKey string `json:"storageKey"`
}

// ConfirmRequest records metadata after a successful upload.
type ConfirmRequest struct {
	FileID       string `json:"fileId"`
	StorageKey   string `json:"storageKey"`
	Filename     string `json:"filename"`
	ContentType  string `json:"contentType"`
	FileSize     int64  `json:"fileSize"`
	ResourceType string `json:"resourceType,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
}

// ListFilter narrows a file listing to one resource.
type ListFilter struct {
	ResourceType string
	ResourceID   string
}

// IsImage reports whether contentType is one of the photo types.
func IsImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// AllowedTypes lists the accepted content types.
func AllowedTypes() []string {
	return []string{
		"image/jpeg", "image/png", "image/heic", "application/pdf",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
}

// Extension returns the key extension for contentType, "bin" if unknown.
func Extension(contentType string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return "bin"
}

// BuildKey returns the tenant-prefixed storage key
// {tenantID}/{resourceType}/{resourceID}/{fileID}.{ext}. Empty resource
// segments are omitted.
func BuildKey(tenantID, resourceType, resourceID, fileID, contentType string) string {
	parts := []string{tenantID}
	if resourceType != "" {
		parts = append(parts, resourceType)
	}
	if resourceID != "" {
		parts = append(parts, resourceID)
	}
	parts = append(parts, fileID+"."+Extension(contentType))
	return strings.Join(parts, "/")
}

// KeyBelongsTo reports whether key lives under the tenant's prefix.
func KeyBelongsTo(key, tenantID string) bool {
	return tenantID != "" && strings.HasPrefix(key, tenantID+"/")
}

func validateSegment(field, v string) error {
	if strings.ContainsAny(v, `/\`) || strings.Contains(v, "..") {
		return domain.Validationf("%s must not contain path separators", field)
	}
	return nil
}
