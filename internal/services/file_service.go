package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	downloadURLExpiry = 15 * time.Minute
	maxBatchFiles     = 500
)

type Presigner interface {
	PresignedGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

type UploadInput struct {
	GroupID     uuid.UUID
	Passcode    string
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
	Tags        []string
	AIEnabled   bool
}

// ListFilesInput filters a file listing. Name and FileType match exactly,
// Search matches name or description, Tags match any-of. A zero Page
// returns every match.
type ListFilesInput struct {
	GroupID  uuid.UUID
	Passcode string
	Name     string
	FileType models.FileType
	Search   string
	Tags     []string
	Page     utils.PaginationParams
}

type UpdateFileInput struct {
	Name             *string
	ShortDescription *string
	Tags             []string
}

// FileService runs the file flows on top of the access engine and the
// state gate.
type FileService struct {
	DB          *gorm.DB
	Access      *AccessService
	Registry    *GroupRegistry
	Memberships MembershipWriter
	Gate        *StateGate
	Blobs       BlobStore
	Queue       *EnrichmentQueue
	Audit       *AuditService
}

func StoragePath(groupID, fileID uuid.UUID, name string) string {
	return fmt.Sprintf("uploads/%s/%s-%s", groupID, fileID, path.Base(name))
}

// Upload stores a new file in a group after the add check and the quota
// check, then hands it to the enrichment queue.
func (s *FileService) Upload(ctx context.Context, actor Principal, in UploadInput) (*models.File, error) {
	group, err := s.checkUpload(ctx, actor, in, 0)
	if err != nil {
		return nil, err
	}
	file, err := s.store(ctx, actor, group, in)
	if err != nil {
		return nil, err
	}
	s.submit(ctx, actor, file, in)
	return file, nil
}

// checkUpload runs the add check and the quota check for one entry. pending
// counts bytes of the same batch that are accepted but not stored yet.
func (s *FileService) checkUpload(ctx context.Context, actor Principal, in UploadInput, pending int64) (*models.Group, error) {
	if err := s.Access.Authorize(ctx, Request{
		Actor:    actor,
		Action:   ActionAddFile,
		GroupID:  in.GroupID,
		Passcode: in.Passcode,
	}); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" || name == "." || name == "/" {
		return nil, invalidInput("file name is required")
	}
	if in.Size <= 0 {
		return nil, invalidInput(fmt.Sprintf("file %q is empty", name))
	}

	group, err := s.Registry.Resolve(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	used, err := s.Registry.UsedBytes(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	if used+pending+in.Size > group.MaxSize {
		logger.WarnWithUser(actor.ID.String(), "upload_quota_exceeded", map[string]interface{}{
			"group_id": group.ID.String(),
			"used":     used,
			"pending":  pending,
			"size":     in.Size,
			"max_size": group.MaxSize,
		})
		return nil, ErrQuotaExceeded
	}
	return group, nil
}

// store writes the blob and then the row. A failed row insert removes the
// blob again.
func (s *FileService) store(ctx context.Context, actor Principal, group *models.Group, in UploadInput) (*models.File, error) {
	name := path.Base(strings.TrimSpace(in.Name))
	uploaderID := actor.ID
	file := &models.File{
		BaseModel:     models.BaseModel{ID: uuid.New()},
		Name:          name,
		GroupID:       group.ID,
		UploadedByID:  &uploaderID,
		MimeType:      in.ContentType,
		FileType:      DetectFileType(name),
		FileSize:      in.Size,
		FileExtension: FileExtension(name),
		Status:        models.FileStatusReady,
	}
	file.StoragePath = StoragePath(group.ID, file.ID, file.Name)

	if s.Blobs != nil {
		if err := s.Blobs.Upload(ctx, file.StoragePath, in.Body, in.Size, in.ContentType); err != nil {
			return nil, fmt.Errorf("failed to store file: %w", err)
		}
	}

	if s.Queue == nil {
		file.Tags = mergeTags(nil, in.Tags)
	}
	if err := s.DB.WithContext(ctx).Create(file).Error; err != nil {
		removeBlobs(ctx, s.Blobs, []models.File{*file})
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return file, nil
}

// submit queues the upload enrichment job and records the upload.
func (s *FileService) submit(ctx context.Context, actor Principal, file *models.File, in UploadInput) {
	if s.Queue != nil {
		job, err := s.Queue.Submit(ctx, EnrichmentRequest{
			FileID:      file.ID,
			Kind:        models.EnrichmentKindUpload,
			Tags:        in.Tags,
			AIEnabled:   in.AIEnabled,
			RequestedBy: file.UploadedByID,
		})
		if err != nil {
			logger.ErrorWithUser(actor.ID.String(), "enrichment_submit_failed", err, map[string]interface{}{
				"file_id": file.ID.String(),
			})
		} else {
			file.Status = models.FileStatusGenerate
			logger.InfoWithUser(actor.ID.String(), "file_enrichment_submitted", map[string]interface{}{
				"file_id": file.ID.String(),
				"job_id":  job.ID.String(),
			})
		}
	}

	logger.InfoWithUser(actor.ID.String(), "file_uploaded", map[string]interface{}{
		"file_id":  file.ID.String(),
		"group_id": file.GroupID.String(),
		"size":     file.FileSize,
	})
	s.Audit.LogAsync(auditEntry(actor, "file.upload", "file", file.ID, map[string]interface{}{
		"group_id": file.GroupID.String(),
		"name":     file.Name,
		"size":     file.FileSize,
	}))
}

// UploadMany stores several files into one group. Every entry passes the add
// check and the quota check, counting the entries before it, before anything
// is stored. A storage failure part way removes the files already stored.
func (s *FileService) UploadMany(ctx context.Context, actor Principal, entries []UploadInput) ([]models.File, error) {
	if len(entries) == 0 {
		return nil, invalidInput("at least one file is required")
	}
	if len(entries) > maxBatchFiles {
		return nil, invalidInput(fmt.Sprintf("at most %d files per upload", maxBatchFiles))
	}

	groups := make([]*models.Group, len(entries))
	var pending int64
	for i, in := range entries {
		if in.GroupID != entries[0].GroupID {
			return nil, invalidInput("all files must target the same group")
		}
		group, err := s.checkUpload(ctx, actor, in, pending)
		if err != nil {
			return nil, err
		}
		groups[i] = group
		pending += in.Size
	}

	stored := make([]models.File, 0, len(entries))
	for i, in := range entries {
		file, err := s.store(ctx, actor, groups[i], in)
		if err != nil {
			s.discard(ctx, stored)
			return nil, err
		}
		stored = append(stored, *file)
	}

	for i := range stored {
		s.submit(ctx, actor, &stored[i], entries[i])
	}
	return stored, nil
}

func (s *FileService) discard(ctx context.Context, files []models.File) {
	if len(files) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Delete(&models.File{}).Error; err != nil {
		logger.Error("upload_rollback_failed", err, map[string]interface{}{
			"files": len(files),
		})
	}
	removeBlobs(ctx, s.Blobs, files)
}

func (s *FileService) Get(ctx context.Context, actor Principal, fileID uuid.UUID, passcode string) (*models.File, error) {
	if err := s.Access.Authorize(ctx, Request{
		Actor:    actor,
		Action:   ActionViewFile,
		FileID:   fileID,
		Passcode: passcode,
	}); err != nil {
		return nil, err
	}
	return s.Gate.Lookup(ctx, fileID)
}

func (s *FileService) DownloadURL(ctx context.Context, actor Principal, fileID uuid.UUID, passcode string) (string, error) {
	file, err := s.Get(ctx, actor, fileID, passcode)
	if err != nil {
		return "", err
	}
	presigner, ok := s.Blobs.(Presigner)
	if !ok {
		return "", fmt.Errorf("blob store does not support download links")
	}
	return presigner.PresignedGetURL(ctx, file.StoragePath, downloadURLExpiry)
}

// List returns a page of files of one group, or of every group the actor
// belongs to when no group is given, along with the total match count.
func (s *FileService) List(ctx context.Context, actor Principal, in ListFilesInput) ([]models.File, int64, error) {
	if err := s.Access.Authorize(ctx, Request{
		Actor:    actor,
		Action:   ActionListFiles,
		GroupID:  in.GroupID,
		Passcode: in.Passcode,
	}); err != nil {
		return nil, 0, err
	}

	query := s.DB.WithContext(ctx).Model(&models.File{})
	if in.GroupID != uuid.Nil {
		query = query.Where("group_id = ?", in.GroupID)
	} else {
		groupIDs, err := s.Memberships.GroupIDsForUser(ctx, actor.ID)
		if err != nil {
			return nil, 0, err
		}
		if len(groupIDs) == 0 {
			return []models.File{}, 0, nil
		}
		query = query.Where("group_id IN ?", groupIDs)
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		query = query.Where("name = ?", name)
	}
	if in.FileType != "" {
		query = query.Where("file_type = ?", in.FileType)
	}
	query = whereSearch(query, in.Search, "name", "short_description")
	query = whereTagsAnyOf(query, "tags", in.Tags)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count files: %w", err)
	}

	files := []models.File{}
	if err := utils.ApplyPagination(query.Order("created_at DESC").Order("id"), in.Page).Find(&files).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list files: %w", err)
	}
	return files, total, nil
}

// Update edits file metadata. The write is conditional on the file still
// being ready, so a job that started after the check wins.
func (s *FileService) Update(ctx context.Context, actor Principal, fileID uuid.UUID, passcode string, in UpdateFileInput) (*models.File, error) {
	if err := s.Access.Authorize(ctx, Request{
		Actor:    actor,
		Action:   ActionEditFile,
		FileID:   fileID,
		Passcode: passcode,
	}); err != nil {
		return nil, err
	}

	file, err := s.Gate.Lookup(ctx, fileID)
	if err != nil {
		return nil, err
	}

	var columns []string
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, invalidInput("file name is required")
		}
		file.Name = path.Base(name)
		columns = append(columns, "name")
	}
	if in.ShortDescription != nil {
		file.ShortDescription = in.ShortDescription
		columns = append(columns, "short_description")
	}
	if in.Tags != nil {
		file.Tags = mergeTags(nil, in.Tags)
		columns = append(columns, "tags")
	}
	if len(columns) == 0 {
		return file, nil
	}

	result := s.DB.WithContext(ctx).
		Model(file).
		Where("status = ?", models.FileStatusReady).
		Select(columns).
		Updates(file)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyProcessing
	}

	s.Audit.LogAsync(auditEntry(actor, "file.update", "file", fileID, map[string]interface{}{
		"fields": columns,
	}))
	return s.Gate.Lookup(ctx, fileID)
}

func (s *FileService) Delete(ctx context.Context, actor Principal, fileID uuid.UUID, passcode string) error {
	if err := s.Access.Authorize(ctx, Request{
		Actor:    actor,
		Action:   ActionDeleteFile,
		FileID:   fileID,
		Passcode: passcode,
	}); err != nil {
		return err
	}

	file, err := s.Gate.Lookup(ctx, fileID)
	if err != nil {
		return err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND status = ?", fileID, models.FileStatusReady).Delete(&models.File{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete file: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyProcessing
		}
		if err := tx.Where("file_id = ?", fileID).Delete(&models.EnrichmentJob{}).Error; err != nil {
			return fmt.Errorf("failed to delete enrichment jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	removeBlobs(ctx, s.Blobs, []models.File{*file})

	logger.InfoWithUser(actor.ID.String(), "file_deleted", map[string]interface{}{
		"file_id":  fileID.String(),
		"group_id": file.GroupID.String(),
	})
	s.Audit.LogAsync(auditEntry(actor, "file.delete", "file", fileID, map[string]interface{}{
		"group_id": file.GroupID.String(),
		"name":     file.Name,
	}))
	return nil
}

// Regenerate queues an enrichment pass of one kind. A file already
// generating returns ErrAlreadyProcessing.
func (s *FileService) Regenerate(ctx context.Context, actor Principal, fileID uuid.UUID, passcode string, kind models.EnrichmentKind) (*models.EnrichmentJob, error) {
	if kind == models.EnrichmentKindUpload || !kind.Valid() {
		return nil, invalidInput("kind must be filename, short_description or tags")
	}
	if err := s.Access.Authorize(ctx, Request{
		Actor:    actor,
		Action:   ActionRegenerateFile,
		FileID:   fileID,
		Passcode: passcode,
	}); err != nil {
		return nil, err
	}
	if s.Queue == nil {
		return nil, fmt.Errorf("enrichment is not configured")
	}

	requestedBy := actor.ID
	job, err := s.Queue.Submit(ctx, EnrichmentRequest{
		FileID:      fileID,
		Kind:        kind,
		AIEnabled:   true,
		RequestedBy: &requestedBy,
	})
	if err != nil {
		return nil, err
	}

	s.Audit.LogAsync(auditEntry(actor, "file.regenerate", "file", fileID, map[string]interface{}{
		"kind": string(kind),
	}))
	return job, nil
}

// LatestJob returns the newest enrichment job of a file the actor can view,
// or nil when none exists.
func (s *FileService) LatestJob(ctx context.Context, actor Principal, fileID uuid.UUID, passcode string) (*models.EnrichmentJob, error) {
	if _, err := s.Get(ctx, actor, fileID, passcode); err != nil {
		return nil, err
	}
	if s.Queue == nil {
		return nil, nil
	}
	return s.Queue.GetLatestJob(ctx, fileID)
}

// RetryEnrichment resubmits the last failed enrichment job of a file.
func (s *FileService) RetryEnrichment(ctx context.Context, actor Principal, fileID uuid.UUID, passcode string) (*models.EnrichmentJob, error) {
	if err := s.Access.Authorize(ctx, Request{
		Actor:    actor,
		Action:   ActionRegenerateFile,
		FileID:   fileID,
		Passcode: passcode,
	}); err != nil {
		return nil, err
	}
	if s.Queue == nil {
		return nil, fmt.Errorf("enrichment is not configured")
	}

	requestedBy := actor.ID
	job, err := s.Queue.Retry(ctx, fileID, &requestedBy)
	if err != nil {
		return nil, err
	}

	s.Audit.LogAsync(auditEntry(actor, "file.enrichment_retry", "file", fileID, map[string]interface{}{
		"kind": string(job.Kind),
	}))
	return job, nil
}
