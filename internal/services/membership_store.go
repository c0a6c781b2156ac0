package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MembershipWriter is the mutating side of the capability store. The Redis
// decorator implements it so writes can invalidate cached entries.
type MembershipWriter interface {
	CapabilityStore
	CreateMembership(ctx context.Context, tx *gorm.DB, m *models.GroupMembership) error
	UpdateCapabilities(ctx context.Context, userID, groupID uuid.UUID, update MembershipUpdate) (*models.GroupMembership, error)
	DeleteMembership(ctx context.Context, userID, groupID uuid.UUID) error
	GroupIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// MembershipUpdate carries optional changes; nil fields are left alone.
type MembershipUpdate struct {
	Role      *models.GroupMembershipRole
	CanAdd    *bool
	CanView   *bool
	CanEdit   *bool
	CanDelete *bool
}

func (u MembershipUpdate) empty() bool {
	return u.Role == nil && u.CanAdd == nil && u.CanView == nil && u.CanEdit == nil && u.CanDelete == nil
}

type MembershipStore struct {
	DB *gorm.DB
}

func NewMembershipStore(db *gorm.DB) *MembershipStore {
	return &MembershipStore{DB: db}
}

func (s *MembershipStore) GetMembership(ctx context.Context, userID, groupID uuid.UUID) (*models.GroupMembership, error) {
	var m models.GroupMembership
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND group_id = ?", userID, groupID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return &m, nil
}

// CreateMembership inserts m, inside tx when one is given.
func (s *MembershipStore) CreateMembership(ctx context.Context, tx *gorm.DB, m *models.GroupMembership) error {
	db := s.DB
	if tx != nil {
		db = tx
	}
	db = db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.GroupMembership{}).
		Where("user_id = ? AND group_id = ?", m.UserID, m.GroupID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if count > 0 {
		return ErrAlreadyMember
	}

	if m.Role == "" {
		m.Role = models.GroupRoleMember
	}
	if err := db.Create(m).Error; err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

func (s *MembershipStore) UpdateCapabilities(ctx context.Context, userID, groupID uuid.UUID, update MembershipUpdate) (*models.GroupMembership, error) {
	m, err := s.GetMembership(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	if update.empty() {
		return m, nil
	}

	updates := map[string]interface{}{}
	if update.Role != nil {
		if !update.Role.Valid() {
			return nil, invalidInput("role must be admin or member")
		}
		updates["role"] = *update.Role
	}
	if update.CanAdd != nil {
		updates["can_add"] = *update.CanAdd
	}
	if update.CanView != nil {
		updates["can_view"] = *update.CanView
	}
	if update.CanEdit != nil {
		updates["can_edit"] = *update.CanEdit
	}
	if update.CanDelete != nil {
		updates["can_delete"] = *update.CanDelete
	}

	if err := s.DB.WithContext(ctx).Model(m).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update membership: %w", err)
	}
	return s.GetMembership(ctx, userID, groupID)
}

func (s *MembershipStore) DeleteMembership(ctx context.Context, userID, groupID uuid.UUID) error {
	result := s.DB.WithContext(ctx).
		Where("user_id = ? AND group_id = ?", userID, groupID).
		Delete(&models.GroupMembership{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete membership: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (s *MembershipStore) GroupIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := s.DB.WithContext(ctx).
		Model(&models.GroupMembership{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return ids, nil
}
