package models

import "github.com/google/uuid"

type GroupMembershipRole string

const (
	GroupRoleAdmin  GroupMembershipRole = "admin"
	GroupRoleMember GroupMembershipRole = "member"
)

func (r GroupMembershipRole) Valid() bool {
	return r == GroupRoleAdmin || r == GroupRoleMember
}

// Capability names one per-group flag on a membership.
type Capability string

const (
	CapabilityAdd    Capability = "add"
	CapabilityView   Capability = "view"
	CapabilityEdit   Capability = "edit"
	CapabilityDelete Capability = "delete"
)

type GroupMembership struct {
	BaseModel
	UserID    uuid.UUID           `json:"userID" gorm:"type:uuid;not null;index;uniqueIndex:idx_user_group"`
	GroupID   uuid.UUID           `json:"groupID" gorm:"type:uuid;not null;index;uniqueIndex:idx_user_group"`
	Role      GroupMembershipRole `json:"role" gorm:"type:varchar(20);not null;default:'member'"`
	CanAdd    bool                `json:"canAdd" gorm:"not null;default:false"`
	CanView   bool                `json:"canView" gorm:"not null;default:false"`
	CanEdit   bool                `json:"canEdit" gorm:"not null;default:false"`
	CanDelete bool                `json:"canDelete" gorm:"not null;default:false"`
	User      User                `json:"user,omitempty" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (m *GroupMembership) IsAdmin() bool {
	return m.Role == GroupRoleAdmin
}

// Has reports the raw flag. Role overlays (admin implies add) are applied by
// the access engine, not here.
func (m *GroupMembership) Has(c Capability) bool {
	switch c {
	case CapabilityAdd:
		return m.CanAdd
	case CapabilityView:
		return m.CanView
	case CapabilityEdit:
		return m.CanEdit
	case CapabilityDelete:
		return m.CanDelete
	default:
		return false
	}
}
