package interfaces

import (
	"context"

	"github.com/armysheng/ai-mail/internal/models"
)

// MessageIngester turns adapter output into canonical rows. Ingestion
// is idempotent: replaying the same message never creates a duplicate.
type MessageIngester interface {
	// IngestMessage persists msg for the account. created is false when
	// the message already existed, in which case only mutable flags are
	// reconciled.
	IngestMessage(ctx context.Context, account *models.EmailAccount, msg *RawMessage) (created bool, err error)
}
