package models

import "github.com/google/uuid"

type FileStatus string

const (
	FileStatusReady    FileStatus = "ready"
	FileStatusGenerate FileStatus = "generate"
)

type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
	FileTypeDocument FileType = "document"
	FileTypeAudio    FileType = "audio"
	FileTypeOther    FileType = "other"
)

type File struct {
	BaseModel
	Name             string     `json:"name" gorm:"type:varchar(255);not null"`
	GroupID          uuid.UUID  `json:"groupID" gorm:"type:uuid;not null;index"`
	UploadedByID     *uuid.UUID `json:"uploadedByID,omitempty" gorm:"type:uuid;index"`
	StoragePath      string     `json:"-" gorm:"type:text;not null"`
	MimeType         string     `json:"mimeType" gorm:"type:varchar(255)"`
	FileType         FileType   `json:"fileType" gorm:"type:varchar(10);not null;default:'other'"`
	FileSize         int64      `json:"fileSize" gorm:"not null;default:1"`
	FileExtension    string     `json:"fileExtension" gorm:"type:varchar(10)"`
	ShortDescription *string    `json:"shortDescription,omitempty" gorm:"type:text"`
	Status           FileStatus `json:"status" gorm:"type:varchar(10);not null;default:'ready';index"`
	Tags             []string   `json:"tags" gorm:"type:text;serializer:json"`
	UploadedBy       *User      `json:"-" gorm:"foreignKey:UploadedByID;constraint:OnDelete:SET NULL"`
}

func (f *File) IsLocked() bool {
	return f.Status == FileStatusGenerate
}
