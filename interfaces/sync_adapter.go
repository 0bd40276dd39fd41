package interfaces

import (
	"context"
	"time"

	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/models"
)

// FetchLimits bounds a single FetchSince pass so one busy mailbox
// cannot monopolize a sync slot.
type FetchLimits struct {
	MaxMessages     int
	FirstSyncWindow time.Duration
}

// RawMessageHandler receives each fetched message in ascending cursor
// order. Returning an error stops the fetch; the adapter reports the
// cursor covering everything handed over before the failure.
type RawMessageHandler func(ctx context.Context, msg *RawMessage) error

// SyncAdapter hides the protocol behind a uniform incremental fetch.
// Implementations exist for IMAP and the Gmail REST API.
type SyncAdapter interface {
	Provider() enum.EmailProvider

	// TestConnection verifies connectivity and authentication without
	// mutating any sync state.
	TestConnection(ctx context.Context, account *models.EmailAccount, creds *DecryptedCredentials) error

	// FetchSince streams messages newer than the opaque cursor to the
	// handler and returns the cursor to persist for the next pass. An
	// empty cursor means first sync, limited by FirstSyncWindow.
	FetchSince(ctx context.Context, account *models.EmailAccount, creds *DecryptedCredentials, folder string, cursor string, limits FetchLimits, handler RawMessageHandler) (string, error)
}

// DecryptedCredentials carries plaintext secrets for the duration of a
// single sync pass. Never persisted.
type DecryptedCredentials struct {
	Password     string
	AccessToken  string
	RefreshToken string
}

// RawMessage is the protocol-neutral shape both adapters produce. The
// ingester owns turning it into canonical records.
type RawMessage struct {
	// Exactly one of these identifies the message at the provider.
	ImapUID           uint32
	ProviderMessageID string

	Folder      string
	MessageID   string
	ThreadID    string
	InReplyTo   string
	Subject     string
	From        RawAddress
	To          []RawAddress
	Cc          []RawAddress
	Bcc         []RawAddress
	BodyText    string
	BodyHTML    string
	IsRead      bool
	IsStarred   bool
	GmailLabels []string
	ReceivedAt  time.Time
	Headers     map[string]string
	Attachments []RawAttachment

	// RFC 5322 source when the adapter could not parse the body itself.
	// The ingester runs its own MIME walk over it.
	RawBody []byte
}

type RawAddress struct {
	Name    string
	Address string
}

type RawAttachment struct {
	Filename         string
	ContentType      string
	ContentID        string
	Size             int64
	IsInline         bool
	StorageReference string
}
