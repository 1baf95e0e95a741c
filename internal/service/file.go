package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/file"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/port/blob"
	"github.com/chin-flags/fixapp/internal/port/broadcast"
	"github.com/chin-flags/fixapp/internal/port/database"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// EventFileUploaded is emitted to the resource room after a confirmed upload.
const EventFileUploaded = "file-uploaded"

// FileService hands out presigned URLs and keeps file metadata. Storage keys
// always start with the ambient tenant id.
type FileService struct {
	store     database.Store
	presigner blob.Presigner
	emitter   broadcast.Emitter
	uploadTTL time.Duration
	getTTL    time.Duration
	log       *zap.Logger
}

// NewFileService creates a new FileService. emitter may be nil.
func NewFileService(store database.Store, presigner blob.Presigner, emitter broadcast.Emitter, cfg config.Storage, log *zap.Logger) *FileService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileService{
		store:     store,
		presigner: presigner,
		emitter:   emitter,
		uploadTTL: cfg.UploadURLTTL,
		getTTL:    cfg.DownloadURLTTL,
		log:       log,
	}
}

// RequestUpload validates the upload and returns a presigned PUT URL.
func (s *FileService) RequestUpload(ctx context.Context, req file.UploadRequest) (*file.UploadTicket, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fileID := uuid.NewString()
	key := file.BuildKey(snap.TenantID, req.ResourceType, req.ResourceID, fileID, req.ContentType)
	url, err := s.presigner.PresignUpload(ctx, key, req.ContentType, s.uploadTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	logger.FromContext(ctx, s.log).Info("upload url issued",
		zap.String("file_id", fileID), zap.String("filename", req.Filename))
	return &file.UploadTicket{UploadURL: url, FileID: fileID, StorageKey: key}, nil
}

// ConfirmUpload records metadata for an uploaded object. The key must be the
// one RequestUpload derived for the same tenant, resource and file id.
func (s *FileService) ConfirmUpload(ctx context.Context, uploadedBy string, req file.ConfirmRequest) (*file.File, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}

	check := file.UploadRequest{
		Filename:     req.Filename,
		ContentType:  req.ContentType,
		FileSize:     req.FileSize,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	}
	if err := check.Validate(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(req.FileID); err != nil {
		return nil, domain.Validationf("invalid fileId")
	}
	want := file.BuildKey(snap.TenantID, req.ResourceType, req.ResourceID, req.FileID, req.ContentType)
	if !file.KeyBelongsTo(req.StorageKey, snap.TenantID) || req.StorageKey != want {
		return nil, domain.Validationf("storageKey does not match the upload")
	}

	f := &file.File{
		ID:               req.FileID,
		StorageKey:       req.StorageKey,
		OriginalFilename: req.Filename,
		FileSize:         req.FileSize,
		ContentType:      req.ContentType,
		ResourceType:     req.ResourceType,
		ResourceID:       req.ResourceID,
		UploadedBy:       uploadedBy,
	}
	if err := s.store.CreateFile(ctx, f); err != nil {
		return nil, fmt.Errorf("save file metadata: %w", err)
	}

	if s.emitter != nil && f.ResourceType != "" && f.ResourceID != "" {
		if err := s.emitter.EmitToRoom(ctx, snap.TenantID, f.ResourceType, f.ResourceID, EventFileUploaded, f); err != nil {
			logger.FromContext(ctx, s.log).Warn("emit file-uploaded failed", zap.Error(err))
		}
	}
	return f, nil
}

// Get returns file metadata from the ambient tenant.
func (s *FileService) Get(ctx context.Context, id string) (*file.File, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkID("File", id); err != nil {
		return nil, err
	}
	f, err := s.store.GetFile(ctx, snap.TenantID, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewError(domain.ErrNotFound, "File not found: "+id)
		}
		return nil, err
	}
	return f, nil
}

// List returns the files of one resource, newest first.
func (s *FileService) List(ctx context.Context, filter file.ListFilter) ([]file.File, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListFiles(ctx, snap.TenantID, filter)
}

// DownloadURL returns a presigned GET URL for a file of the ambient tenant.
func (s *FileService) DownloadURL(ctx context.Context, id string) (string, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	url, err := s.presigner.PresignDownload(ctx, f.StorageKey, s.getTTL)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

// Delete soft-deletes a file. The object itself stays in the bucket.
func (s *FileService) Delete(ctx context.Context, id string) error {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return err
	}
	if err := checkID("File", id); err != nil {
		return err
	}
	if err := s.store.SoftDeleteFile(ctx, snap.TenantID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewError(domain.ErrNotFound, "File not found: "+id)
		}
		return err
	}
	logger.FromContext(ctx, s.log).Info("file deleted", zap.String("file_id", id))
	return nil
}
