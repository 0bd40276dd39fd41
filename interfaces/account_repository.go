package interfaces

import (
	"context"
	"time"

	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.EmailAccount) error
	GetByID(ctx context.Context, id string) (*models.EmailAccount, error)
	GetByAddress(ctx context.Context, userID, emailAddress string) (*models.EmailAccount, error)
	List(ctx context.Context, userID string) ([]*models.EmailAccount, error)
	Delete(ctx context.Context, id string) error

	// ListDueForSync returns enabled accounts whose next_sync_at has
	// passed, oldest first, excluding accounts already syncing.
	ListDueForSync(ctx context.Context, now time.Time) ([]*models.EmailAccount, error)

	// MarkSyncing atomically claims an account for a sync pass. It
	// returns false when another worker holds the account, which is the
	// mutual exclusion guarantee for concurrent schedulers.
	MarkSyncing(ctx context.Context, id string) (bool, error)

	// ResetStaleSyncing releases syncing claims not touched since
	// before, returning them to rotation with an error status. Covers
	// workers that died mid-pass without releasing their claim.
	ResetStaleSyncing(ctx context.Context, before time.Time) (int64, error)

	// UpdateSyncStatus releases the account after a pass, recording the
	// outcome and the next due time.
	UpdateSyncStatus(ctx context.Context, id string, status enum.SyncStatus, lastError string, nextSyncAt *time.Time) error

	// DisableSync turns syncing off permanently, used when credentials
	// can no longer be decrypted. A human has to re-enter them.
	DisableSync(ctx context.Context, id string, reason string) error

	UpdateEmailStats(ctx context.Context, id string, totalEmails, unreadEmails int) error
	UpdateTokens(ctx context.Context, id string, accessTokenEncrypted string, expiresAt *time.Time) error
}
