package repository

import (
	"gorm.io/gorm"

	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/models"
)

type Repositories struct {
	AccountRepository   interfaces.AccountRepository
	EmailRepository     interfaces.EmailRepository
	SyncStateRepository interfaces.SyncStateRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:   NewAccountRepository(db),
		EmailRepository:     NewEmailRepository(db),
		SyncStateRepository: NewSyncStateRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.EmailAccount{},
		&models.Email{},
		&models.EmailRecipient{},
		&models.EmailAttachment{},
		&models.FolderSyncState{},
	)
}
