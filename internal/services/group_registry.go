package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/cloudstorm/backend/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GroupRegistry is the read side of groups: resolution, privacy and
// membership tests.
type GroupRegistry struct {
	DB          *gorm.DB
	Memberships CapabilityStore
}

func NewGroupRegistry(db *gorm.DB, memberships CapabilityStore) *GroupRegistry {
	return &GroupRegistry{DB: db, Memberships: memberships}
}

func (r *GroupRegistry) Resolve(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	var group models.Group
	err := r.DB.WithContext(ctx).First(&group, "id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	return &group, nil
}

func (r *GroupRegistry) IsPrivate(ctx context.Context, groupID uuid.UUID) (bool, error) {
	group, err := r.Resolve(ctx, groupID)
	if err != nil {
		return false, err
	}
	return group.IsPrivate, nil
}

// IsMember is false for anonymous principals and on any lookup failure.
func (r *GroupRegistry) IsMember(ctx context.Context, groupID uuid.UUID, actor Principal) bool {
	if !actor.IsAuthenticated {
		return false
	}
	_, err := r.Memberships.GetMembership(ctx, actor.ID, groupID)
	if err != nil && !errors.Is(err, ErrMembershipNotFound) {
		logger.Error("membership_check_failed", err, map[string]interface{}{
			"group_id": groupID.String(),
			"user_id":  actor.ID.String(),
		})
	}
	return err == nil
}

// GroupFilter narrows a group listing. Name matches exactly, Search matches
// part of the name, Tags match any-of. A zero Page returns every match.
type GroupFilter struct {
	Name      string
	IsPrivate *bool
	Search    string
	Tags      []string
	Page      utils.PaginationParams
}

// ListForUser returns a page of the groups the user belongs to, newest
// first, and the total match count.
func (r *GroupRegistry) ListForUser(ctx context.Context, userID uuid.UUID, filter GroupFilter) ([]models.Group, int64, error) {
	query := r.DB.WithContext(ctx).
		Model(&models.Group{}).
		Joins("JOIN group_memberships ON group_memberships.group_id = groups.id AND group_memberships.user_id = ?", userID)
	if name := strings.TrimSpace(filter.Name); name != "" {
		query = query.Where("groups.name = ?", name)
	}
	if filter.IsPrivate != nil {
		query = query.Where("groups.is_private = ?", *filter.IsPrivate)
	}
	query = whereSearch(query, filter.Search, "groups.name")
	query = whereTagsAnyOf(query, "groups.tags", filter.Tags)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count groups: %w", err)
	}

	groups := []models.Group{}
	if err := utils.ApplyPagination(query.Order("groups.created_at DESC").Order("groups.id"), filter.Page).Find(&groups).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, total, nil
}

// UsedBytes sums the sizes of every file stored in the group.
func (r *GroupRegistry) UsedBytes(ctx context.Context, groupID uuid.UUID) (int64, error) {
	var used int64
	err := r.DB.WithContext(ctx).
		Model(&models.File{}).
		Where("group_id = ?", groupID).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&used).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute group usage: %w", err)
	}
	return used, nil
}
