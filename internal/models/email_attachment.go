package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/armysheng/ai-mail/internal/utils"
)

// EmailAttachment holds attachment metadata only. The bytes stay on
// the provider; StorageReference is the pointer needed to re-fetch
// them later (Gmail attachment id or IMAP folder/uid/part path).
type EmailAttachment struct {
	ID          string `gorm:"column:id;type:varchar(50);primaryKey"`
	EmailID     string `gorm:"column:email_id;type:varchar(50);index;not null"`
	Filename    string `gorm:"column:filename;type:varchar(500)"`
	ContentType string `gorm:"column:content_type;type:varchar(255)"`
	ContentID   string `gorm:"column:content_id;type:varchar(255)"` // For inline attachments
	Size        int64  `gorm:"column:size;default:0"`
	IsInline    bool   `gorm:"column:is_inline;default:false"`

	StorageReference string `gorm:"column:storage_reference;type:varchar(1000)"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (EmailAttachment) TableName() string {
	return "email_attachments"
}

func (e *EmailAttachment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("file", 12)
	}
	e.CreatedAt = utils.Now()
	return nil
}
