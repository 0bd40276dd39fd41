package interfaces

import (
	"context"

	"github.com/armysheng/ai-mail/internal/models"
)

type EmailRepository interface {
	// CreateWithAssociations persists an email together with its
	// recipients and attachment metadata in a single transaction.
	CreateWithAssociations(ctx context.Context, email *models.Email) error

	GetByID(ctx context.Context, id string) (*models.Email, error)
	GetByUID(ctx context.Context, accountID, folder string, uid uint32) (*models.Email, error)
	GetByProviderMessageID(ctx context.Context, accountID, providerMessageID string) (*models.Email, error)
	GetByMessageID(ctx context.Context, accountID, messageID string) (*models.Email, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.Email, int64, error)
	ListByFolder(ctx context.Context, accountID, folder string, limit, offset int) ([]*models.Email, int64, error)
	UpdateFlags(ctx context.Context, id string, isRead, isStarred bool) error
	CountByAccount(ctx context.Context, accountID string) (total int64, unread int64, err error)
	DeleteByAccount(ctx context.Context, accountID string) error
}
