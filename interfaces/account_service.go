package interfaces

import (
	"context"

	"github.com/armysheng/ai-mail/dto"
	"github.com/armysheng/ai-mail/internal/models"
)

type AccountService interface {
	RegisterAccount(ctx context.Context, userID string, request *dto.RegisterAccountRequest) (*models.EmailAccount, error)
	GetAccount(ctx context.Context, userID, accountID string) (*models.EmailAccount, error)
	ListAccounts(ctx context.Context, userID string) ([]*models.EmailAccount, error)
	DeleteAccount(ctx context.Context, userID, accountID string) error

	// TestConnection decrypts the stored credentials and probes the
	// provider without touching sync state.
	TestConnection(ctx context.Context, userID, accountID string) error

	// DecryptedCredentials opens the vault for a sync pass. Failures
	// surface as DecryptionError and disable the account.
	DecryptedCredentials(ctx context.Context, account *models.EmailAccount) (*DecryptedCredentials, error)

	// RefreshAccessToken exchanges the refresh token for a new access
	// token and persists the re-encrypted result.
	RefreshAccessToken(ctx context.Context, account *models.EmailAccount) (*DecryptedCredentials, error)
}
