package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/utils"
)

// EmailRecipient is a single to/cc/bcc entry belonging to one email.
type EmailRecipient struct {
	ID      string             `gorm:"column:id;type:varchar(50);primaryKey"`
	EmailID string             `gorm:"column:email_id;type:varchar(50);index;not null"`
	Name    string             `gorm:"column:name;type:varchar(255)"`
	Address string             `gorm:"column:address;type:varchar(255);index;not null"`
	Kind    enum.RecipientKind `gorm:"column:kind;type:varchar(10);not null"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (EmailRecipient) TableName() string {
	return "email_recipients"
}

func (r *EmailRecipient) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = utils.GenerateNanoIDWithPrefix("rcpt", 12)
	}
	r.CreatedAt = utils.Now()
	return nil
}
