package interfaces

import (
	"context"
)

// EventPublisher fans sync outcomes out to downstream consumers. The
// RabbitMQ implementation is optional; a no-op publisher is wired when
// no broker is configured.
type EventPublisher interface {
	PublishEmailReceived(ctx context.Context, accountID, emailID string) error
	PublishSyncCompleted(ctx context.Context, accountID string, newEmails int) error
	Close() error
}
