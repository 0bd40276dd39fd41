package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/utils"
)

// Email represents a canonical email message stored in the database.
// Body, subject and sender are immutable once stored; only the flag
// columns and UpdatedAt change on re-sync.
type Email struct {
	ID        string             `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string             `gorm:"column:account_id;type:varchar(50);index;not null"`
	Provider  enum.EmailProvider `gorm:"column:provider;type:varchar(50);index;not null"`
	Folder    string             `gorm:"column:folder;type:varchar(100);index;not null"`

	// Provider-native identity: IMAP UID or Gmail message id. One of
	// the two is set depending on the provider.
	ImapUID           uint32 `gorm:"column:imap_uid;index:idx_emails_account_folder_uid,unique,where:imap_uid > 0"`
	ProviderMessageID string `gorm:"column:provider_message_id;type:varchar(255);index:idx_emails_account_provider_id,unique,where:provider_message_id <> ''"`

	// RFC Message-ID, fallback de-dup key for cross-protocol re-adds
	MessageID string `gorm:"column:message_id;type:varchar(255);index"`
	ThreadID  string `gorm:"column:thread_id;type:varchar(255);index"`
	InReplyTo string `gorm:"column:in_reply_to;type:varchar(255)"`

	Subject     string `gorm:"column:subject;type:varchar(1000)"`
	FromName    string `gorm:"column:from_name;type:varchar(255)"`
	FromAddress string `gorm:"column:from_address;type:varchar(255);index"`

	BodyText string `gorm:"column:body_text;type:text"`
	BodyHTML string `gorm:"column:body_html;type:text"`
	Preview  string `gorm:"column:preview;type:varchar(255)"`

	IsRead    bool `gorm:"column:is_read;default:false;index"`
	IsStarred bool `gorm:"column:is_starred;default:false"`

	GmailLabels pq.StringArray `gorm:"column:gmail_labels;type:text[]"`

	ReceivedAt *time.Time `gorm:"column:received_at;type:timestamp;index"`

	RawHeaders JSONMap `gorm:"column:raw_headers;type:jsonb"`

	Recipients  []EmailRecipient  `gorm:"foreignKey:EmailID"`
	Attachments []EmailAttachment `gorm:"foreignKey:EmailID"`

	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Email) TableName() string {
	return "emails"
}

func (e *Email) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("email", 24)
	}
	e.CreatedAt = utils.Now()
	return nil
}
