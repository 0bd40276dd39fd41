package dto

import (
	"time"

	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/models"
)

type RegisterAccountRequest struct {
	EmailAddress string             `json:"emailAddress" binding:"required,email"`
	DisplayName  string             `json:"displayName"`
	Provider     enum.EmailProvider `json:"provider" binding:"required"`

	// IMAP settings, required when provider is imap
	ImapServer   string             `json:"imapServer"`
	ImapPort     int                `json:"imapPort"`
	ImapSecurity enum.EmailSecurity `json:"imapSecurity"`
	Password     string             `json:"password"`

	// OAuth settings, required when provider is gmail
	AccessToken    string     `json:"accessToken"`
	RefreshToken   string     `json:"refreshToken"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt"`

	SyncEnabled         *bool    `json:"syncEnabled"`
	SyncIntervalMinutes int      `json:"syncIntervalMinutes"`
	MaxHistoryDays      int      `json:"maxHistoryDays"`
	SyncFolders         []string `json:"syncFolders"`
}

type AccountResponse struct {
	ID                  string             `json:"id"`
	EmailAddress        string             `json:"emailAddress"`
	DisplayName         string             `json:"displayName"`
	Provider            enum.EmailProvider `json:"provider"`
	ImapServer          string             `json:"imapServer,omitempty"`
	ImapPort            int                `json:"imapPort,omitempty"`
	ImapSecurity        enum.EmailSecurity `json:"imapSecurity,omitempty"`
	SyncEnabled         bool               `json:"syncEnabled"`
	SyncIntervalMinutes int                `json:"syncIntervalMinutes"`
	Status              enum.SyncStatus    `json:"status"`
	LastSyncAt          *time.Time         `json:"lastSyncAt"`
	NextSyncAt          *time.Time         `json:"nextSyncAt"`
	LastError           string             `json:"lastError,omitempty"`
	TotalEmails         int                `json:"totalEmails"`
	UnreadEmails        int                `json:"unreadEmails"`
	CreatedAt           time.Time          `json:"createdAt"`
}

func NewAccountResponse(account *models.EmailAccount) *AccountResponse {
	return &AccountResponse{
		ID:                  account.ID,
		EmailAddress:        account.EmailAddress,
		DisplayName:         account.DisplayName,
		Provider:            account.Provider,
		ImapServer:          account.ImapServer,
		ImapPort:            account.ImapPort,
		ImapSecurity:        account.ImapSecurity,
		SyncEnabled:         account.SyncEnabled,
		SyncIntervalMinutes: account.SyncIntervalMinutes,
		Status:              account.Status,
		LastSyncAt:          account.LastSyncAt,
		NextSyncAt:          account.NextSyncAt,
		LastError:           account.LastError,
		TotalEmails:         account.TotalEmails,
		UnreadEmails:        account.UnreadEmails,
		CreatedAt:           account.CreatedAt,
	}
}
