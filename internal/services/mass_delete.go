package services

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// BlobStore is the object storage used for file contents.
type BlobStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, objectName string) error
}

const blobCleanupConcurrency = 8

// MassDeleteService removes many files of one group in a single operation,
// authorized once at group scope.
type MassDeleteService struct {
	DB     *gorm.DB
	Access *AccessService
	Blobs  BlobStore
	Audit  *AuditService
}

func NewMassDeleteService(db *gorm.DB, access *AccessService, blobs BlobStore, audit *AuditService) *MassDeleteService {
	return &MassDeleteService{DB: db, Access: access, Blobs: blobs, Audit: audit}
}

// MassDelete deletes the files of ids that belong to groupID and returns how
// many were removed. Ids from other groups and files still generating are
// skipped silently.
func (s *MassDeleteService) MassDelete(ctx context.Context, actor Principal, groupID uuid.UUID, ids []uuid.UUID, passcode string) (int64, error) {
	if err := s.Access.Authorize(ctx, Request{
		Actor:    actor,
		Action:   ActionMassDeleteFiles,
		GroupID:  groupID,
		Passcode: passcode,
	}); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var files []models.File
	var deleted int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id IN ? AND group_id = ? AND status = ?", ids, groupID, models.FileStatusReady).
			Find(&files).Error; err != nil {
			return fmt.Errorf("failed to load files: %w", err)
		}
		if len(files) == 0 {
			return nil
		}

		matched := make([]uuid.UUID, len(files))
		for i := range files {
			matched[i] = files[i].ID
		}
		if err := tx.Where("file_id IN ?", matched).Delete(&models.EnrichmentJob{}).Error; err != nil {
			return fmt.Errorf("failed to delete enrichment jobs: %w", err)
		}
		result := tx.Where("id IN ? AND group_id = ? AND status = ?", matched, groupID, models.FileStatusReady).
			Delete(&models.File{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete files: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	removeBlobs(ctx, s.Blobs, files)

	logger.InfoWithUser(actor.ID.String(), "files_mass_deleted", map[string]interface{}{
		"group_id":  groupID.String(),
		"requested": len(ids),
		"deleted":   deleted,
	})
	s.Audit.LogAsync(auditEntry(actor, "file.mass_delete", "group", groupID, map[string]interface{}{
		"requested": len(ids),
		"deleted":   deleted,
	}))

	return deleted, nil
}

// removeBlobs deletes stored objects after their rows are gone. Failures are
// logged; the rows are already deleted.
func removeBlobs(ctx context.Context, blobs BlobStore, files []models.File) {
	if blobs == nil || len(files) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobCleanupConcurrency)
	for i := range files {
		path := files[i].StoragePath
		if path == "" {
			continue
		}
		g.Go(func() error {
			if err := blobs.Delete(gctx, path); err != nil {
				logger.Warn("blob_cleanup_failed", map[string]interface{}{
					"storage_path": path,
					"error":        err.Error(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}
