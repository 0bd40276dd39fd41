package enum

type EmailProvider string

const (
	ProviderIMAP  EmailProvider = "imap"
	ProviderGmail EmailProvider = "gmail"
)

func (t EmailProvider) String() string {
	return string(t)
}

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecuritySSL      EmailSecurity = "ssl"
	EmailSecurityTLS      EmailSecurity = "tls"
	EmailSecurityStartTLS EmailSecurity = "startTLS"
)

func (t EmailSecurity) String() string {
	return string(t)
}

type SyncStatus string

const (
	SyncStatusInactive SyncStatus = "inactive"
	SyncStatusSyncing  SyncStatus = "syncing"
	SyncStatusActive   SyncStatus = "active"
	SyncStatusError    SyncStatus = "error"
)

func (t SyncStatus) String() string {
	return string(t)
}

type RecipientKind string

const (
	RecipientTo  RecipientKind = "to"
	RecipientCc  RecipientKind = "cc"
	RecipientBcc RecipientKind = "bcc"
)

func (t RecipientKind) String() string {
	return string(t)
}
