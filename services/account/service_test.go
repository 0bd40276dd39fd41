package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/armysheng/ai-mail/config"
	"github.com/armysheng/ai-mail/dto"
	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/models"
	"github.com/armysheng/ai-mail/internal/repository"
	"github.com/armysheng/ai-mail/internal/vault"
)

type mockAccountRepo struct {
	interfaces.AccountRepository
	mock.Mock
}

func (m *mockAccountRepo) Create(ctx context.Context, account *models.EmailAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountRepo) GetByID(ctx context.Context, id string) (*models.EmailAccount, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*models.EmailAccount)
	return account, args.Error(1)
}

func (m *mockAccountRepo) GetByAddress(ctx context.Context, userID, emailAddress string) (*models.EmailAccount, error) {
	args := m.Called(ctx, userID, emailAddress)
	account, _ := args.Get(0).(*models.EmailAccount)
	return account, args.Error(1)
}

func (m *mockAccountRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockEmailRepo struct {
	interfaces.EmailRepository
	mock.Mock
}

func (m *mockEmailRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

type mockSyncStateRepo struct {
	interfaces.SyncStateRepository
	mock.Mock
}

func (m *mockSyncStateRepo) DeleteAccountSyncStates(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func newTestService(accountRepo *mockAccountRepo, emailRepo *mockEmailRepo, stateRepo *mockSyncStateRepo) interfaces.AccountService {
	credentialVault, err := vault.NewCredentialVault(&vault.Config{MasterKey: "test-master-key"})
	if err != nil {
		panic(err)
	}

	cfg := &config.Config{
		SchedulerConfig: &config.SchedulerConfig{FirstSyncWindowDays: 30},
		GoogleOAuth:     &config.GoogleOAuthConfig{},
	}

	repos := &repository.Repositories{
		AccountRepository:   accountRepo,
		EmailRepository:     emailRepo,
		SyncStateRepository: stateRepo,
	}

	return NewAccountService(getLogger(), cfg, repos, credentialVault, nil)
}

func TestRegisterAccount_ImapCredentialsAreEncrypted(t *testing.T) {
	// Arrange
	accountRepo := &mockAccountRepo{}
	accountRepo.On("GetByAddress", mock.Anything, "user_1", "kate@example.com").Return(nil, nil)
	accountRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	service := newTestService(accountRepo, &mockEmailRepo{}, &mockSyncStateRepo{})

	// Act
	account, err := service.RegisterAccount(context.Background(), "user_1", &dto.RegisterAccountRequest{
		EmailAddress: "kate@example.com",
		Provider:     enum.ProviderIMAP,
		ImapServer:   "imap.example.com",
		ImapPort:     993,
		Password:     "hunter2",
	})

	// Assert
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "user_1", account.UserID)
	assert.NotEmpty(t, account.PasswordEncrypted)
	assert.NotContains(t, account.PasswordEncrypted, "hunter2")
	assert.Equal(t, enum.EmailSecuritySSL, account.ImapSecurity)
	assert.Equal(t, 5, account.SyncIntervalMinutes)
	assert.Equal(t, 30, account.MaxHistoryDays)
	assert.True(t, account.SyncEnabled)
	require.NotNil(t, account.NextSyncAt)
	accountRepo.AssertExpectations(t)
}

func TestRegisterAccount_RejectsInvalidEmail(t *testing.T) {
	service := newTestService(&mockAccountRepo{}, &mockEmailRepo{}, &mockSyncStateRepo{})

	_, err := service.RegisterAccount(context.Background(), "user_1", &dto.RegisterAccountRequest{
		EmailAddress: "not an address",
		Provider:     enum.ProviderIMAP,
	})

	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestRegisterAccount_RejectsDuplicateAddress(t *testing.T) {
	accountRepo := &mockAccountRepo{}
	accountRepo.On("GetByAddress", mock.Anything, "user_1", "kate@example.com").
		Return(&models.EmailAccount{ID: "acct_1"}, nil)
	service := newTestService(accountRepo, &mockEmailRepo{}, &mockSyncStateRepo{})

	_, err := service.RegisterAccount(context.Background(), "user_1", &dto.RegisterAccountRequest{
		EmailAddress: "kate@example.com",
		Provider:     enum.ProviderIMAP,
		ImapServer:   "imap.example.com",
		ImapPort:     993,
		Password:     "hunter2",
	})

	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestRegisterAccount_ImapRequiresServerAndPassword(t *testing.T) {
	accountRepo := &mockAccountRepo{}
	accountRepo.On("GetByAddress", mock.Anything, "user_1", "kate@example.com").Return(nil, nil)
	service := newTestService(accountRepo, &mockEmailRepo{}, &mockSyncStateRepo{})

	_, err := service.RegisterAccount(context.Background(), "user_1", &dto.RegisterAccountRequest{
		EmailAddress: "kate@example.com",
		Provider:     enum.ProviderIMAP,
		ImapServer:   "imap.example.com",
	})

	assert.ErrorIs(t, err, ErrMissingImapSetup)
}

func TestRegisterAccount_GmailRequiresBothTokens(t *testing.T) {
	accountRepo := &mockAccountRepo{}
	accountRepo.On("GetByAddress", mock.Anything, "user_1", "kate@gmail.com").Return(nil, nil)
	service := newTestService(accountRepo, &mockEmailRepo{}, &mockSyncStateRepo{})

	_, err := service.RegisterAccount(context.Background(), "user_1", &dto.RegisterAccountRequest{
		EmailAddress: "kate@gmail.com",
		Provider:     enum.ProviderGmail,
		AccessToken:  "ya29.token",
	})

	assert.ErrorIs(t, err, ErrMissingOAuth)
}

func TestRegisterAccount_UnknownProviderRejected(t *testing.T) {
	accountRepo := &mockAccountRepo{}
	accountRepo.On("GetByAddress", mock.Anything, "user_1", "kate@example.com").Return(nil, nil)
	service := newTestService(accountRepo, &mockEmailRepo{}, &mockSyncStateRepo{})

	_, err := service.RegisterAccount(context.Background(), "user_1", &dto.RegisterAccountRequest{
		EmailAddress: "kate@example.com",
		Provider:     enum.EmailProvider("carrier-pigeon"),
	})

	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestGetAccount_EnforcesOwnership(t *testing.T) {
	accountRepo := &mockAccountRepo{}
	accountRepo.On("GetByID", mock.Anything, "acct_1").
		Return(&models.EmailAccount{ID: "acct_1", UserID: "user_1"}, nil)
	service := newTestService(accountRepo, &mockEmailRepo{}, &mockSyncStateRepo{})

	_, err := service.GetAccount(context.Background(), "someone-else", "acct_1")

	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDeleteAccount_CascadesEmailsAndSyncState(t *testing.T) {
	// Arrange
	accountRepo := &mockAccountRepo{}
	emailRepo := &mockEmailRepo{}
	stateRepo := &mockSyncStateRepo{}
	accountRepo.On("GetByID", mock.Anything, "acct_1").
		Return(&models.EmailAccount{ID: "acct_1", UserID: "user_1"}, nil)
	emailRepo.On("DeleteByAccount", mock.Anything, "acct_1").Return(nil)
	stateRepo.On("DeleteAccountSyncStates", mock.Anything, "acct_1").Return(nil)
	accountRepo.On("Delete", mock.Anything, "acct_1").Return(nil)
	service := newTestService(accountRepo, emailRepo, stateRepo)

	// Act
	err := service.DeleteAccount(context.Background(), "user_1", "acct_1")

	// Assert
	require.NoError(t, err)
	accountRepo.AssertExpectations(t)
	emailRepo.AssertExpectations(t)
	stateRepo.AssertExpectations(t)
}

func TestDecryptedCredentials_RoundTrip(t *testing.T) {
	// Arrange
	credentialVault, err := vault.NewCredentialVault(&vault.Config{MasterKey: "test-master-key"})
	require.NoError(t, err)
	encrypted, err := credentialVault.Encrypt("hunter2")
	require.NoError(t, err)
	service := newTestService(&mockAccountRepo{}, &mockEmailRepo{}, &mockSyncStateRepo{})

	// Act
	creds, err := service.DecryptedCredentials(context.Background(), &models.EmailAccount{
		ID:                "acct_1",
		PasswordEncrypted: encrypted,
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "hunter2", creds.Password)
	assert.Empty(t, creds.AccessToken)
}
