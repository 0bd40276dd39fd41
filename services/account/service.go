package account

import (
	"context"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/armysheng/ai-mail/config"
	"github.com/armysheng/ai-mail/dto"
	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/models"
	"github.com/armysheng/ai-mail/internal/repository"
	"github.com/armysheng/ai-mail/internal/syncerrors"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/internal/utils"
	"github.com/armysheng/ai-mail/internal/vault"
	"github.com/armysheng/ai-mail/services/gmailsync"
)

var (
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrAccountExists    = errors.New("account already registered")
	ErrAccountNotFound  = errors.New("account not found")
	ErrMissingImapSetup = errors.New("imap accounts require server, port and password")
	ErrMissingOAuth     = errors.New("gmail accounts require an access and refresh token")
	ErrUnknownProvider  = errors.New("unknown provider")
)

type accountService struct {
	log       logger.Logger
	cfg       *config.Config
	repos     *repository.Repositories
	vault     *vault.CredentialVault
	adapters  map[enum.EmailProvider]interfaces.SyncAdapter
	refresher *gmailsync.TokenRefresher
}

func NewAccountService(
	log logger.Logger,
	cfg *config.Config,
	repos *repository.Repositories,
	credentialVault *vault.CredentialVault,
	adapters map[enum.EmailProvider]interfaces.SyncAdapter,
) interfaces.AccountService {
	return &accountService{
		log:       log,
		cfg:       cfg,
		repos:     repos,
		vault:     credentialVault,
		adapters:  adapters,
		refresher: gmailsync.NewTokenRefresher(cfg.GoogleOAuth.ClientID, cfg.GoogleOAuth.ClientSecret),
	}
}

func (s *accountService) RegisterAccount(ctx context.Context, userID string, request *dto.RegisterAccountRequest) (*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.RegisterAccount")
	defer span.Finish()
	tracing.TagComponentService(span)

	validation := mailvalidate.ValidateEmailSyntax(request.EmailAddress)
	if !validation.IsValid {
		return nil, ErrInvalidEmail
	}
	emailAddress := validation.CleanEmail

	existing, err := s.repos.AccountRepository.GetByAddress(ctx, userID, emailAddress)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if existing != nil {
		return nil, ErrAccountExists
	}

	account := &models.EmailAccount{
		UserID:              userID,
		EmailAddress:        emailAddress,
		DisplayName:         request.DisplayName,
		Provider:            request.Provider,
		SyncEnabled:         utils.GetOrDefault(request.SyncEnabled, true),
		SyncIntervalMinutes: request.SyncIntervalMinutes,
		MaxHistoryDays:      request.MaxHistoryDays,
		SyncFolders:         request.SyncFolders,
		Status:              enum.SyncStatusInactive,
	}
	if account.SyncIntervalMinutes <= 0 {
		account.SyncIntervalMinutes = 5
	}
	if account.MaxHistoryDays <= 0 {
		account.MaxHistoryDays = s.cfg.SchedulerConfig.FirstSyncWindowDays
	}

	switch request.Provider {
	case enum.ProviderIMAP:
		if request.ImapServer == "" || request.ImapPort == 0 || request.Password == "" {
			return nil, ErrMissingImapSetup
		}
		account.ImapServer = request.ImapServer
		account.ImapPort = request.ImapPort
		account.ImapSecurity = request.ImapSecurity
		if account.ImapSecurity == "" {
			account.ImapSecurity = enum.EmailSecuritySSL
		}
		account.PasswordEncrypted, err = s.vault.Encrypt(request.Password)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	case enum.ProviderGmail:
		if request.AccessToken == "" || request.RefreshToken == "" {
			return nil, ErrMissingOAuth
		}
		account.AccessTokenEncrypted, err = s.vault.Encrypt(request.AccessToken)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		account.RefreshTokenEncrypted, err = s.vault.Encrypt(request.RefreshToken)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		account.TokenExpiresAt = request.TokenExpiresAt
	default:
		return nil, ErrUnknownProvider
	}

	// Due immediately so the next tick picks it up
	account.NextSyncAt = utils.NowPtr()

	if err := s.repos.AccountRepository.Create(ctx, account); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.log.Infof("registered %s account %s for user %s", account.Provider, account.ID, userID)
	return account, nil
}

func (s *accountService) GetAccount(ctx context.Context, userID, accountID string) (*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.GetAccount")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	account, err := s.repos.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if account == nil || account.UserID != userID {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (s *accountService) ListAccounts(ctx context.Context, userID string) ([]*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.ListAccounts")
	defer span.Finish()
	tracing.TagComponentService(span)

	return s.repos.AccountRepository.List(ctx, userID)
}

// DeleteAccount removes the account and everything derived from it:
// emails, recipients, attachments and folder cursors.
func (s *accountService) DeleteAccount(ctx context.Context, userID, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.DeleteAccount")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	account, err := s.GetAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}

	if err := s.repos.EmailRepository.DeleteByAccount(ctx, account.ID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.repos.SyncStateRepository.DeleteAccountSyncStates(ctx, account.ID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.repos.AccountRepository.Delete(ctx, account.ID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("deleted account %s and its synced data", account.ID)
	return nil
}

func (s *accountService) TestConnection(ctx context.Context, userID, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.TestConnection")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	account, err := s.GetAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}

	adapter, ok := s.adapters[account.Provider]
	if !ok {
		return ErrUnknownProvider
	}

	creds, err := s.DecryptedCredentials(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return adapter.TestConnection(ctx, account, creds)
}

func (s *accountService) DecryptedCredentials(ctx context.Context, account *models.EmailAccount) (*interfaces.DecryptedCredentials, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "AccountService.DecryptedCredentials")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, account.ID)

	creds := &interfaces.DecryptedCredentials{}
	var err error

	if account.PasswordEncrypted != "" {
		creds.Password, err = s.vault.Decrypt(account.PasswordEncrypted)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	if account.AccessTokenEncrypted != "" {
		creds.AccessToken, err = s.vault.Decrypt(account.AccessTokenEncrypted)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	if account.RefreshTokenEncrypted != "" {
		creds.RefreshToken, err = s.vault.Decrypt(account.RefreshTokenEncrypted)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}

	return creds, nil
}

// RefreshAccessToken exchanges the refresh token and stores the new
// access token re-encrypted. Returns fresh plaintext credentials for
// immediate use by the caller.
func (s *accountService) RefreshAccessToken(ctx context.Context, account *models.EmailAccount) (*interfaces.DecryptedCredentials, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.RefreshAccessToken")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, account.ID)

	if account.Provider != enum.ProviderGmail {
		return nil, syncerrors.New(syncerrors.KindAuth, "token refresh only applies to gmail accounts")
	}

	creds, err := s.DecryptedCredentials(ctx, account)
	if err != nil {
		return nil, err
	}

	token, err := s.refresher.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	encrypted, err := s.vault.Encrypt(token.AccessToken)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		expiresAt = &expiry
	}

	if err := s.repos.AccountRepository.UpdateTokens(ctx, account.ID, encrypted, expiresAt); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	account.AccessTokenEncrypted = encrypted
	account.TokenExpiresAt = expiresAt
	creds.AccessToken = token.AccessToken

	s.log.Infof("refreshed access token for account %s", account.ID)
	return creds, nil
}
