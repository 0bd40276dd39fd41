package interfaces

import (
	"context"

	"github.com/armysheng/ai-mail/internal/models"
)

type SyncStateRepository interface {
	GetSyncState(ctx context.Context, accountID, folderName string) (*models.FolderSyncState, error)
	SaveSyncState(ctx context.Context, state *models.FolderSyncState) error
	DeleteSyncState(ctx context.Context, accountID, folderName string) error
	DeleteAccountSyncStates(ctx context.Context, accountID string) error
	GetAccountSyncStates(ctx context.Context, accountID string) (map[string]string, error)
}
