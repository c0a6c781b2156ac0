package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxGroupNameLength = 40

type CreateGroupInput struct {
	Name      string
	IsPrivate bool
	Passcode  string
	MaxSize   int64
	Tags      []string
}

type UpdateGroupInput struct {
	Name      *string
	IsPrivate *bool
	MaxSize   *int64
	Tags      []string
}

type AddMemberInput struct {
	UserID    uuid.UUID
	Role      models.GroupMembershipRole
	CanAdd    bool
	CanView   bool
	CanEdit   bool
	CanDelete bool
}

// GroupService runs the group and member management flows. Every flow is
// authorized by the AccessService before it touches the database.
type GroupService struct {
	DB             *gorm.DB
	Access         *AccessService
	Registry       *GroupRegistry
	Memberships    MembershipWriter
	Vault          *PasscodeVault
	Blobs          BlobStore
	Audit          *AuditService
	DefaultMaxSize int64
}

func (s *GroupService) authorize(ctx context.Context, actor Principal, action Action, groupID uuid.UUID, passcode string) error {
	return s.Access.Authorize(ctx, Request{
		Actor:    actor,
		Action:   action,
		GroupID:  groupID,
		Passcode: passcode,
	})
}

// Create makes a group and the creator's admin membership in one
// transaction.
func (s *GroupService) Create(ctx context.Context, actor Principal, in CreateGroupInput) (*models.Group, error) {
	if err := s.authorize(ctx, actor, ActionCreateGroup, uuid.Nil, ""); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxGroupNameLength {
		return nil, invalidInput(fmt.Sprintf("name must be 1-%d characters", maxGroupNameLength))
	}
	if in.MaxSize < 0 {
		return nil, invalidInput("max size must not be negative")
	}
	maxSize := in.MaxSize
	if maxSize == 0 {
		maxSize = s.DefaultMaxSize
	}
	if maxSize == 0 {
		maxSize = models.DefaultGroupMaxSize
	}

	group := &models.Group{
		Name:        name,
		IsPrivate:   in.IsPrivate,
		MaxSize:     maxSize,
		CreatedByID: &actor.ID,
		Tags:        mergeTags(nil, in.Tags),
	}
	if in.IsPrivate {
		sealed, err := s.Vault.Seal(in.Passcode)
		if err != nil {
			return nil, err
		}
		group.Passcode = sealed
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		return s.Memberships.CreateMembership(ctx, tx, &models.GroupMembership{
			UserID:    actor.ID,
			GroupID:   group.ID,
			Role:      models.GroupRoleAdmin,
			CanAdd:    true,
			CanView:   true,
			CanEdit:   true,
			CanDelete: true,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(actor.ID.String(), "group_created", map[string]interface{}{
		"group_id":   group.ID.String(),
		"is_private": group.IsPrivate,
	})
	s.Audit.LogAsync(auditEntry(actor, "group.create", "group", group.ID, map[string]interface{}{
		"name": group.Name,
	}))
	return group, nil
}

func (s *GroupService) Get(ctx context.Context, actor Principal, groupID uuid.UUID, passcode string) (*models.Group, error) {
	if err := s.authorize(ctx, actor, ActionViewGroup, groupID, passcode); err != nil {
		return nil, err
	}
	return s.Registry.Resolve(ctx, groupID)
}

func (s *GroupService) ListMine(ctx context.Context, actor Principal, filter GroupFilter) ([]models.Group, int64, error) {
	if !actor.IsAuthenticated {
		return nil, 0, &DeniedError{Verdict: Deny(ReasonUnauthenticated)}
	}
	return s.Registry.ListForUser(ctx, actor.ID, filter)
}

func (s *GroupService) Update(ctx context.Context, actor Principal, groupID uuid.UUID, passcode string, in UpdateGroupInput) (*models.Group, error) {
	if err := s.authorize(ctx, actor, ActionEditGroup, groupID, passcode); err != nil {
		return nil, err
	}

	group, err := s.Registry.Resolve(ctx, groupID)
	if err != nil {
		return nil, err
	}

	var columns []string
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || len(name) > maxGroupNameLength {
			return nil, invalidInput(fmt.Sprintf("name must be 1-%d characters", maxGroupNameLength))
		}
		group.Name = name
		columns = append(columns, "name")
	}
	if in.MaxSize != nil {
		if *in.MaxSize <= 0 {
			return nil, invalidInput("max size must be positive")
		}
		group.MaxSize = *in.MaxSize
		columns = append(columns, "max_size")
	}
	if in.IsPrivate != nil {
		group.IsPrivate = *in.IsPrivate
		columns = append(columns, "is_private")
		if !group.IsPrivate {
			group.Passcode = nil
			columns = append(columns, "passcode")
		}
	}
	if in.Tags != nil {
		group.Tags = mergeTags(nil, in.Tags)
		columns = append(columns, "tags")
	}
	if len(columns) > 0 {
		if err := s.DB.WithContext(ctx).Model(group).Select(columns).Updates(group).Error; err != nil {
			return nil, fmt.Errorf("failed to update group: %w", err)
		}
	}

	s.Audit.LogAsync(auditEntry(actor, "group.update", "group", groupID, nil))
	return s.Registry.Resolve(ctx, groupID)
}

// SetPasscode rotates the passcode of a private group. currentPasscode
// answers the privacy challenge for the rotation itself.
func (s *GroupService) SetPasscode(ctx context.Context, actor Principal, groupID uuid.UUID, currentPasscode, newPasscode string) error {
	if err := s.authorize(ctx, actor, ActionEditGroup, groupID, currentPasscode); err != nil {
		return err
	}
	group, err := s.Registry.Resolve(ctx, groupID)
	if err != nil {
		return err
	}
	if !group.IsPrivate {
		return invalidInput("only private groups carry a passcode")
	}
	if err := s.Vault.SetPasscode(ctx, groupID, newPasscode); err != nil {
		return err
	}

	logger.InfoWithUser(actor.ID.String(), "group_passcode_changed", map[string]interface{}{
		"group_id": groupID.String(),
	})
	s.Audit.LogAsync(auditEntry(actor, "group.passcode_change", "group", groupID, nil))
	return nil
}

// Delete removes the group with its files, jobs and memberships. Blob
// removal runs after commit and is best-effort.
func (s *GroupService) Delete(ctx context.Context, actor Principal, groupID uuid.UUID, passcode string) error {
	if err := s.authorize(ctx, actor, ActionDeleteGroup, groupID, passcode); err != nil {
		return err
	}

	var files []models.File
	var memberIDs []uuid.UUID
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Find(&files).Error; err != nil {
			return fmt.Errorf("failed to load files: %w", err)
		}
		if err := tx.Model(&models.GroupMembership{}).Where("group_id = ?", groupID).Pluck("user_id", &memberIDs).Error; err != nil {
			return fmt.Errorf("failed to load members: %w", err)
		}
		if len(files) > 0 {
			fileIDs := make([]uuid.UUID, len(files))
			for i := range files {
				fileIDs[i] = files[i].ID
			}
			if err := tx.Where("file_id IN ?", fileIDs).Delete(&models.EnrichmentJob{}).Error; err != nil {
				return fmt.Errorf("failed to delete enrichment jobs: %w", err)
			}
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.File{}).Error; err != nil {
			return fmt.Errorf("failed to delete files: %w", err)
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMembership{}).Error; err != nil {
			return fmt.Errorf("failed to delete memberships: %w", err)
		}
		result := tx.Delete(&models.Group{}, "id = ?", groupID)
		if result.Error != nil {
			return fmt.Errorf("failed to delete group: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrGroupNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	if cached, ok := s.Memberships.(*CachedMembershipStore); ok {
		cached.InvalidateGroup(ctx, groupID)
	}
	removeBlobs(ctx, s.Blobs, files)

	logger.InfoWithUser(actor.ID.String(), "group_deleted", map[string]interface{}{
		"group_id": groupID.String(),
		"files":    len(files),
		"members":  len(memberIDs),
	})
	s.Audit.LogAsync(auditEntry(actor, "group.delete", "group", groupID, map[string]interface{}{
		"files": len(files),
	}))
	return nil
}

func (s *GroupService) AddMember(ctx context.Context, actor Principal, groupID uuid.UUID, passcode string, in AddMemberInput) (*models.GroupMembership, error) {
	if err := s.authorize(ctx, actor, ActionAddMember, groupID, passcode); err != nil {
		return nil, err
	}

	role := in.Role
	if role == "" {
		role = models.GroupRoleMember
	}
	if !role.Valid() {
		return nil, invalidInput("role must be admin or member")
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", in.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	m := &models.GroupMembership{
		UserID:    user.ID,
		GroupID:   groupID,
		Role:      role,
		CanAdd:    in.CanAdd,
		CanView:   in.CanView,
		CanEdit:   in.CanEdit,
		CanDelete: in.CanDelete,
	}
	if err := s.Memberships.CreateMembership(ctx, nil, m); err != nil {
		return nil, err
	}

	logger.InfoWithUser(actor.ID.String(), "group_member_added", map[string]interface{}{
		"group_id": groupID.String(),
		"user_id":  user.ID.String(),
		"role":     string(role),
	})
	s.Audit.LogAsync(auditEntry(actor, "group.member_add", "group", groupID, map[string]interface{}{
		"member_id": user.ID.String(),
		"role":      string(role),
	}))
	return m, nil
}

func (s *GroupService) UpdateMember(ctx context.Context, actor Principal, groupID, userID uuid.UUID, passcode string, update MembershipUpdate) (*models.GroupMembership, error) {
	if err := s.Access.Authorize(ctx, Request{
		Actor:        actor,
		Action:       ActionEditMember,
		GroupID:      groupID,
		TargetUserID: userID,
		Passcode:     passcode,
	}); err != nil {
		return nil, err
	}

	m, err := s.Memberships.UpdateCapabilities(ctx, userID, groupID, update)
	if err != nil {
		return nil, err
	}

	s.Audit.LogAsync(auditEntry(actor, "group.member_update", "group", groupID, map[string]interface{}{
		"member_id": userID.String(),
	}))
	return m, nil
}

// RemoveMember deletes a membership. Admins can only be removed by
// themselves.
func (s *GroupService) RemoveMember(ctx context.Context, actor Principal, groupID, userID uuid.UUID, passcode string) error {
	if err := s.Access.Authorize(ctx, Request{
		Actor:        actor,
		Action:       ActionRemoveMember,
		GroupID:      groupID,
		TargetUserID: userID,
		Passcode:     passcode,
	}); err != nil {
		return err
	}

	if err := s.Memberships.DeleteMembership(ctx, userID, groupID); err != nil {
		return err
	}

	logger.InfoWithUser(actor.ID.String(), "group_member_removed", map[string]interface{}{
		"group_id": groupID.String(),
		"user_id":  userID.String(),
	})
	s.Audit.LogAsync(auditEntry(actor, "group.member_remove", "group", groupID, map[string]interface{}{
		"member_id": userID.String(),
	}))
	return nil
}
