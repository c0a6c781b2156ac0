package models

import "github.com/google/uuid"

const DefaultGroupMaxSize int64 = 2000000

// Group owns files and memberships. Passcode holds ciphertext, never cleartext.
type Group struct {
	BaseModel
	Name        string            `json:"name" gorm:"type:varchar(40);not null"`
	IsPrivate   bool              `json:"isPrivate" gorm:"not null;default:false;index"`
	Passcode    *string           `json:"-" gorm:"type:text"`
	MaxSize     int64             `json:"maxSize" gorm:"not null;default:2000000"`
	CreatedByID *uuid.UUID        `json:"createdByID,omitempty" gorm:"type:uuid;index"`
	CreatedBy   *User             `json:"createdBy,omitempty" gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL"`
	Tags        []string          `json:"tags" gorm:"type:text;serializer:json"`
	Memberships []GroupMembership `json:"memberships,omitempty" gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	Files       []File            `json:"-" gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
}

func (g *Group) HasPasscode() bool {
	return g.Passcode != nil && *g.Passcode != ""
}
