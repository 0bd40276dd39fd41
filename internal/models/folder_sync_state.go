package models

import (
	"time"
)

// FolderSyncState records how far synchronization has progressed for
// one account folder. Cursor is opaque: an IMAP UID high-water-mark or
// a Gmail history token, interpreted only by the owning adapter.
type FolderSyncState struct {
	ID         string    `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID  string    `gorm:"column:account_id;type:varchar(50);index;not null"`
	FolderName string    `gorm:"column:folder_name;type:varchar(100);index;not null"`
	Cursor     string    `gorm:"column:cursor;type:varchar(255);not null"`
	LastSync   time.Time `gorm:"column:last_sync;type:timestamp;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (FolderSyncState) TableName() string {
	return "folder_sync_states"
}
