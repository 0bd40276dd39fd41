package interfaces

import (
	"context"
	"time"

	"github.com/armysheng/ai-mail/internal/enum"
)

type SyncScheduler interface {
	Start(ctx context.Context) error
	Stop() error

	// TriggerSync queues an immediate pass for the account, subject to
	// the same mutual exclusion as scheduled passes.
	TriggerSync(ctx context.Context, accountID string) error

	Status() SchedulerStatus
}

type SchedulerStatus struct {
	Running        bool                         `json:"running"`
	ActiveAccounts int                          `json:"activeAccounts"`
	Accounts       map[string]AccountSyncStatus `json:"accounts"`
}

type AccountSyncStatus struct {
	Status     enum.SyncStatus `json:"status"`
	LastSyncAt *time.Time      `json:"lastSyncAt"`
	NextSyncAt *time.Time      `json:"nextSyncAt"`
	LastError  string          `json:"lastError,omitempty"`
}
