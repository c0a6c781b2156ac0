package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudstorm/backend/internal/config"
	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EnrichmentTask struct {
	JobID  uuid.UUID
	FileID uuid.UUID
}

type EnrichmentRequest struct {
	FileID      uuid.UUID
	Kind        models.EnrichmentKind
	Tags        []string
	AIEnabled   bool
	RequestedBy *uuid.UUID
}

// EnrichmentQueue runs enrichment jobs on a background worker. A job owns
// its file's generate lock from Submit until the job completes or fails for
// the last time; the file then returns to ready.
type EnrichmentQueue struct {
	DB       *gorm.DB
	Gate     *StateGate
	Enricher Enricher
	queue    chan EnrichmentTask
	config   config.EnrichmentConfig
}

func NewEnrichmentQueue(db *gorm.DB, gate *StateGate, enricher Enricher, cfg config.EnrichmentConfig) *EnrichmentQueue {
	q := &EnrichmentQueue{
		DB:       db,
		Gate:     gate,
		Enricher: enricher,
		queue:    make(chan EnrichmentTask, cfg.QueueBufferSize),
		config:   cfg,
	}
	go q.processQueue()
	return q
}

// Submit locks the file and records a pending job. It returns
// ErrAlreadyProcessing when the file is already generating.
func (q *EnrichmentQueue) Submit(ctx context.Context, req EnrichmentRequest) (*models.EnrichmentJob, error) {
	if !req.Kind.Valid() {
		return nil, invalidInput(fmt.Sprintf("unknown enrichment kind %q", req.Kind))
	}

	entered, err := q.Gate.TryEnterGenerate(ctx, req.FileID)
	if err != nil {
		return nil, err
	}
	if !entered {
		return nil, ErrAlreadyProcessing
	}

	job := models.EnrichmentJob{
		FileID:        req.FileID,
		Kind:          req.Kind,
		AIEnabled:     req.AIEnabled,
		Tags:          req.Tags,
		Status:        models.EnrichmentJobStatusPending,
		MaxAttempts:   q.config.MaxAttempts,
		RequestedByID: req.RequestedBy,
	}
	if err := q.DB.WithContext(ctx).Create(&job).Error; err != nil {
		q.release(req.FileID)
		return nil, fmt.Errorf("failed to create enrichment job: %w", err)
	}

	q.dispatch(job, "enrichment_job_enqueued")
	return &job, nil
}

func (q *EnrichmentQueue) GetLatestJob(ctx context.Context, fileID uuid.UUID) (*models.EnrichmentJob, error) {
	var job models.EnrichmentJob
	err := q.DB.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Retry resubmits the most recent failed job of a file with its original
// parameters.
func (q *EnrichmentQueue) Retry(ctx context.Context, fileID uuid.UUID, requestedBy *uuid.UUID) (*models.EnrichmentJob, error) {
	last, err := q.GetLatestJob(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if last == nil || last.Status != models.EnrichmentJobStatusFailed {
		return nil, invalidInput("no failed enrichment job to retry")
	}
	return q.Submit(ctx, EnrichmentRequest{
		FileID:      fileID,
		Kind:        last.Kind,
		Tags:        last.Tags,
		AIEnabled:   last.AIEnabled,
		RequestedBy: requestedBy,
	})
}

func (q *EnrichmentQueue) processQueue() {
	for task := range q.queue {
		q.processJob(task)
	}
}

func (q *EnrichmentQueue) processJob(task EnrichmentTask) {
	ctx := context.Background()

	var job models.EnrichmentJob
	err := q.DB.
		Where("id = ? AND status = ?", task.JobID, models.EnrichmentJobStatusPending).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", time.Now().UTC()).
		First(&job).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("enrichment_job_load_failed", err, map[string]interface{}{
				"job_id": task.JobID.String(),
			})
		}
		return
	}

	now := time.Now().UTC()
	job.Status = models.EnrichmentJobStatusProcessing
	job.StartedAt = &now
	if err := q.DB.Save(&job).Error; err != nil {
		logger.Error("enrichment_job_update_failed", err, map[string]interface{}{
			"job_id": job.ID.String(),
		})
		return
	}

	terminal := true
	defer func() {
		if terminal {
			q.release(job.FileID)
		}
	}()

	file, err := q.Gate.Lookup(ctx, job.FileID)
	if err != nil {
		job.Attempts = job.MaxAttempts - 1
		q.markJobFailed(&job, err)
		return
	}

	var enrichErr error
	if job.Kind != models.EnrichmentKindUpload || job.AIEnabled {
		enrichment, err := q.Enricher.Enrich(ctx, file, job.Kind)
		if err != nil {
			enrichErr = err
		} else {
			applyEnrichment(file, enrichment)
		}
	}
	file.Tags = mergeTags(file.Tags, job.Tags)

	if err := q.DB.Model(file).Select("name", "short_description", "tags").Updates(file).Error; err != nil {
		enrichErr = errors.Join(enrichErr, fmt.Errorf("failed to save enrichment: %w", err))
	}

	if enrichErr != nil {
		terminal = q.markJobFailed(&job, enrichErr)
		return
	}

	completedAt := time.Now().UTC()
	job.Status = models.EnrichmentJobStatusCompleted
	job.CompletedAt = &completedAt
	job.LastError = nil
	if err := q.DB.Save(&job).Error; err != nil {
		logger.Error("enrichment_job_complete_failed", err, map[string]interface{}{
			"job_id": job.ID.String(),
		})
		return
	}

	logger.Info("enrichment_job_completed", map[string]interface{}{
		"job_id":  job.ID.String(),
		"file_id": job.FileID.String(),
		"kind":    string(job.Kind),
	})
}

func applyEnrichment(file *models.File, e *Enrichment) {
	if e == nil {
		return
	}
	if e.Name != nil && *e.Name != "" {
		file.Name = *e.Name
	}
	if e.ShortDescription != nil {
		file.ShortDescription = e.ShortDescription
	}
	file.Tags = mergeTags(file.Tags, e.Tags)
}

// markJobFailed records the failure and reports whether it was final.
func (q *EnrichmentQueue) markJobFailed(job *models.EnrichmentJob, jobErr error) bool {
	job.Attempts++
	errStr := jobErr.Error()
	job.LastError = &errStr

	final := job.Attempts >= job.MaxAttempts
	if final {
		job.Status = models.EnrichmentJobStatusFailed
		logger.Error("enrichment_job_final_failure", jobErr, map[string]interface{}{
			"job_id":   job.ID.String(),
			"file_id":  job.FileID.String(),
			"attempts": job.Attempts,
		})
	} else {
		job.Status = models.EnrichmentJobStatusPending
		nextRetry := time.Now().UTC().Add(q.retryDelay(job.Attempts))
		job.NextRetryAt = &nextRetry

		logger.Warn("enrichment_job_retry_scheduled", map[string]interface{}{
			"job_id":       job.ID.String(),
			"file_id":      job.FileID.String(),
			"attempts":     job.Attempts,
			"max_attempts": job.MaxAttempts,
			"next_retry":   nextRetry.String(),
		})
	}

	if err := q.DB.Save(job).Error; err != nil {
		logger.Error("enrichment_job_failed_update_failed", err, map[string]interface{}{
			"job_id": job.ID.String(),
		})
	}
	return final
}

func (q *EnrichmentQueue) retryDelay(attempts int) time.Duration {
	if len(q.config.RetryDelays) == 0 {
		return 0
	}
	i := attempts - 1
	if i >= len(q.config.RetryDelays) {
		i = len(q.config.RetryDelays) - 1
	}
	return q.config.RetryDelays[i]
}

// RecoverStaleJobs requeues jobs abandoned by a crashed worker and pending
// jobs whose retry time has passed.
func (q *EnrichmentQueue) RecoverStaleJobs(ctx context.Context) {
	if _, err := ResetStaleJobs(ctx, q.DB, q.config.StaleAfter); err != nil {
		logger.Error("enrichment_stale_scan_failed", err, nil)
		return
	}

	var pending []models.EnrichmentJob
	if err := q.DB.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", models.EnrichmentJobStatusPending, time.Now().UTC()).
		Find(&pending).Error; err != nil {
		logger.Error("enrichment_pending_scan_failed", err, nil)
		return
	}
	for _, job := range pending {
		q.dispatch(job, "enrichment_job_requeued")
	}
}

// ResetStaleJobs moves jobs stuck in processing for longer than staleAfter
// back to pending. The owning file keeps its generate lock; the next
// recovery pass of a running queue picks the jobs up.
func ResetStaleJobs(ctx context.Context, db *gorm.DB, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}

	var stale []models.EnrichmentJob
	if err := db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.EnrichmentJobStatusProcessing, time.Now().UTC().Add(-staleAfter)).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	reset := 0
	for i := range stale {
		job := &stale[i]
		job.Status = models.EnrichmentJobStatusPending
		job.NextRetryAt = nil
		if err := db.WithContext(ctx).Save(job).Error; err != nil {
			logger.Error("enrichment_job_stale_recovery_failed", err, map[string]interface{}{
				"job_id": job.ID.String(),
			})
			continue
		}
		reset++
		logger.Info("enrichment_job_stale_recovered", map[string]interface{}{
			"job_id":  job.ID.String(),
			"file_id": job.FileID.String(),
		})
	}
	return reset, nil
}

// RunRecovery calls RecoverStaleJobs on every tick until ctx is done.
func (q *EnrichmentQueue) RunRecovery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.RecoverStaleJobs(ctx)
		}
	}
}

func (q *EnrichmentQueue) dispatch(job models.EnrichmentJob, action string) {
	select {
	case q.queue <- EnrichmentTask{JobID: job.ID, FileID: job.FileID}:
		logger.Info(action, map[string]interface{}{
			"job_id":  job.ID.String(),
			"file_id": job.FileID.String(),
		})
	default:
		logger.Warn("enrichment_queue_full", map[string]interface{}{
			"job_id":  job.ID.String(),
			"file_id": job.FileID.String(),
		})
	}
}

func (q *EnrichmentQueue) release(fileID uuid.UUID) {
	if err := q.Gate.ExitGenerate(context.Background(), fileID); err != nil {
		logger.Error("enrichment_release_failed", err, map[string]interface{}{
			"file_id": fileID.String(),
		})
	}
}
