package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StateGate owns the ready/generate lifecycle of a file. The transition to
// generate is a single conditional UPDATE, so at most one caller wins it.
type StateGate struct {
	DB *gorm.DB
}

func NewStateGate(db *gorm.DB) *StateGate {
	return &StateGate{DB: db}
}

func (g *StateGate) Lookup(ctx context.Context, fileID uuid.UUID) (*models.File, error) {
	var file models.File
	err := g.DB.WithContext(ctx).First(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	return &file, nil
}

func (g *StateGate) IsLocked(ctx context.Context, fileID uuid.UUID) (bool, error) {
	file, err := g.Lookup(ctx, fileID)
	if err != nil {
		return false, err
	}
	return file.IsLocked(), nil
}

// TryEnterGenerate moves a ready file to generate. It returns false when the
// file is already generating and ErrFileNotFound when it does not exist.
func (g *StateGate) TryEnterGenerate(ctx context.Context, fileID uuid.UUID) (bool, error) {
	result := g.DB.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ? AND status = ?", fileID, models.FileStatusReady).
		Update("status", models.FileStatusGenerate)
	if result.Error != nil {
		return false, fmt.Errorf("failed to lock file: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := g.DB.WithContext(ctx).Model(&models.File{}).Where("id = ?", fileID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check file: %w", err)
	}
	if count == 0 {
		return false, ErrFileNotFound
	}
	return false, nil
}

// ExitGenerate returns the file to ready. Calling it on a ready or deleted
// file is a no-op.
func (g *StateGate) ExitGenerate(ctx context.Context, fileID uuid.UUID) error {
	err := g.DB.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ? AND status = ?", fileID, models.FileStatusGenerate).
		Update("status", models.FileStatusReady).Error
	if err != nil {
		return fmt.Errorf("failed to unlock file: %w", err)
	}
	return nil
}
