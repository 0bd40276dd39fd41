package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/utils"
)

// EmailAccount is a remote mail account registered for synchronization.
// Credential columns hold vault ciphertext, never plaintext.
type EmailAccount struct {
	ID           string             `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	UserID       string             `gorm:"column:user_id;type:varchar(50);index;not null" json:"userId"`
	EmailAddress string             `gorm:"column:email_address;type:varchar(255);index;not null" json:"emailAddress"`
	DisplayName  string             `gorm:"column:display_name;type:varchar(255)" json:"displayName"`
	Provider     enum.EmailProvider `gorm:"column:provider;type:varchar(50);index;not null" json:"provider"`

	// IMAP connection settings (unused for gmail accounts)
	ImapServer   string             `gorm:"column:imap_server;type:varchar(255)" json:"imapServer"`
	ImapPort     int                `gorm:"column:imap_port" json:"imapPort"`
	ImapSecurity enum.EmailSecurity `gorm:"column:imap_security;type:varchar(50)" json:"imapSecurity"`

	// Encrypted credentials
	PasswordEncrypted     string     `gorm:"column:password_encrypted;type:text" json:"-"`
	AccessTokenEncrypted  string     `gorm:"column:access_token_encrypted;type:text" json:"-"`
	RefreshTokenEncrypted string     `gorm:"column:refresh_token_encrypted;type:text" json:"-"`
	TokenExpiresAt        *time.Time `gorm:"column:token_expires_at;type:timestamp" json:"tokenExpiresAt"`

	// Sync configuration
	SyncEnabled         bool     `gorm:"column:sync_enabled;default:true" json:"syncEnabled"`
	SyncIntervalMinutes int      `gorm:"column:sync_interval_minutes;default:5" json:"syncIntervalMinutes"`
	MaxHistoryDays      int      `gorm:"column:max_history_days;default:30" json:"maxHistoryDays"`
	SyncFolders         pq.StringArray `gorm:"column:sync_folders;type:text[]" json:"syncFolders"`

	// Sync state
	Status     enum.SyncStatus `gorm:"column:status;type:varchar(50);index;default:inactive" json:"status"`
	LastSyncAt *time.Time      `gorm:"column:last_sync_at;type:timestamp" json:"lastSyncAt"`
	NextSyncAt *time.Time      `gorm:"column:next_sync_at;type:timestamp;index" json:"nextSyncAt"`
	LastError  string          `gorm:"column:last_error;type:text" json:"lastError"`

	// Aggregate counters
	TotalEmails  int `gorm:"column:total_emails;default:0" json:"totalEmails"`
	UnreadEmails int `gorm:"column:unread_emails;default:0" json:"unreadEmails"`

	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (EmailAccount) TableName() string {
	return "email_accounts"
}

func (a *EmailAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	a.CreatedAt = utils.Now()
	return nil
}

// SyncInterval returns the configured interval as a duration, with a
// floor of one minute so a zero row never produces a hot loop.
func (a *EmailAccount) SyncInterval() time.Duration {
	minutes := a.SyncIntervalMinutes
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

// Folders returns the folder list to sync, defaulting to INBOX.
func (a *EmailAccount) Folders() []string {
	if len(a.SyncFolders) == 0 {
		return []string{"INBOX"}
	}
	return a.SyncFolders
}
