package models

// User is the persisted side of a principal. Authentication itself happens
// outside this service; only identity and the verified flag matter here.
type User struct {
	BaseModel
	Email            string            `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Username         string            `json:"username" gorm:"type:varchar(200);uniqueIndex;not null"`
	IsVerified       bool              `json:"isVerified" gorm:"not null;default:false"`
	GroupMemberships []GroupMembership `json:"-" gorm:"foreignKey:UserID"`
}
