package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EnrichmentJobStatus string

const (
	EnrichmentJobStatusPending    EnrichmentJobStatus = "pending"
	EnrichmentJobStatusProcessing EnrichmentJobStatus = "processing"
	EnrichmentJobStatusCompleted  EnrichmentJobStatus = "completed"
	EnrichmentJobStatusFailed     EnrichmentJobStatus = "failed"
)

// EnrichmentKind selects what a job regenerates. KindUpload runs the full
// post-upload pass.
type EnrichmentKind string

const (
	EnrichmentKindUpload           EnrichmentKind = "upload"
	EnrichmentKindFilename         EnrichmentKind = "filename"
	EnrichmentKindShortDescription EnrichmentKind = "short_description"
	EnrichmentKindTags             EnrichmentKind = "tags"
)

func (k EnrichmentKind) Valid() bool {
	switch k {
	case EnrichmentKindUpload, EnrichmentKindFilename, EnrichmentKindShortDescription, EnrichmentKindTags:
		return true
	}
	return false
}

// EnrichmentJob tracks one asynchronous enrichment pass over a file.
type EnrichmentJob struct {
	ID            uuid.UUID           `json:"id" gorm:"type:uuid;primaryKey"`
	FileID        uuid.UUID           `json:"fileID" gorm:"type:uuid;not null;index"`
	Kind          EnrichmentKind      `json:"kind" gorm:"type:varchar(30);not null;default:'upload'"`
	AIEnabled     bool                `json:"aiEnabled" gorm:"not null;default:false"`
	Tags          []string            `json:"tags" gorm:"type:text;serializer:json"`
	Status        EnrichmentJobStatus `json:"status" gorm:"type:varchar(20);not null;default:pending;index"`
	Attempts      int                 `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts   int                 `json:"maxAttempts" gorm:"not null;default:3"`
	LastError     *string             `json:"lastError,omitempty" gorm:"type:text"`
	NextRetryAt   *time.Time          `json:"nextRetryAt,omitempty" gorm:"index"`
	StartedAt     *time.Time          `json:"startedAt,omitempty"`
	CompletedAt   *time.Time          `json:"completedAt,omitempty"`
	RequestedByID *uuid.UUID          `json:"requestedByID,omitempty" gorm:"type:uuid;index"`
	CreatedAt     time.Time           `json:"createdAt" gorm:"not null"`
	UpdatedAt     time.Time           `json:"updatedAt" gorm:"not null"`
}

func (j *EnrichmentJob) BeforeCreate(_ *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (j *EnrichmentJob) BeforeUpdate(_ *gorm.DB) error {
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (EnrichmentJob) TableName() string {
	return "enrichment_jobs"
}
