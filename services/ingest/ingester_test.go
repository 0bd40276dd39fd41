package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/models"
	"github.com/armysheng/ai-mail/internal/syncerrors"
)

type mockEmailRepository struct {
	mock.Mock
}

func (m *mockEmailRepository) CreateWithAssociations(ctx context.Context, email *models.Email) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *mockEmailRepository) GetByID(ctx context.Context, id string) (*models.Email, error) {
	args := m.Called(ctx, id)
	email, _ := args.Get(0).(*models.Email)
	return email, args.Error(1)
}

func (m *mockEmailRepository) GetByUID(ctx context.Context, accountID, folder string, uid uint32) (*models.Email, error) {
	args := m.Called(ctx, accountID, folder, uid)
	email, _ := args.Get(0).(*models.Email)
	return email, args.Error(1)
}

func (m *mockEmailRepository) GetByProviderMessageID(ctx context.Context, accountID, providerMessageID string) (*models.Email, error) {
	args := m.Called(ctx, accountID, providerMessageID)
	email, _ := args.Get(0).(*models.Email)
	return email, args.Error(1)
}

func (m *mockEmailRepository) GetByMessageID(ctx context.Context, accountID, messageID string) (*models.Email, error) {
	args := m.Called(ctx, accountID, messageID)
	email, _ := args.Get(0).(*models.Email)
	return email, args.Error(1)
}

func (m *mockEmailRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.Email, int64, error) {
	args := m.Called(ctx, accountID, limit, offset)
	emails, _ := args.Get(0).([]*models.Email)
	return emails, args.Get(1).(int64), args.Error(2)
}

func (m *mockEmailRepository) ListByFolder(ctx context.Context, accountID, folder string, limit, offset int) ([]*models.Email, int64, error) {
	args := m.Called(ctx, accountID, folder, limit, offset)
	emails, _ := args.Get(0).([]*models.Email)
	return emails, args.Get(1).(int64), args.Error(2)
}

func (m *mockEmailRepository) UpdateFlags(ctx context.Context, id string, isRead, isStarred bool) error {
	args := m.Called(ctx, id, isRead, isStarred)
	return args.Error(0)
}

func (m *mockEmailRepository) CountByAccount(ctx context.Context, accountID string) (int64, int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *mockEmailRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

type mockEventPublisher struct {
	mock.Mock
}

func (m *mockEventPublisher) PublishEmailReceived(ctx context.Context, accountID, emailID string) error {
	args := m.Called(ctx, accountID, emailID)
	return args.Error(0)
}

func (m *mockEventPublisher) PublishSyncCompleted(ctx context.Context, accountID string, newEmails int) error {
	args := m.Called(ctx, accountID, newEmails)
	return args.Error(0)
}

func (m *mockEventPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func testAccount() *models.EmailAccount {
	return &models.EmailAccount{
		ID:       "acct_test1",
		Provider: enum.ProviderIMAP,
	}
}

func TestIngestMessage_CreatesNewEmail(t *testing.T) {
	// Arrange
	repo := &mockEmailRepository{}
	events := &mockEventPublisher{}
	ingester := NewMessageIngester(getLogger(), repo, events)

	receivedAt := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	msg := &interfaces.RawMessage{
		ImapUID:    42,
		Folder:     "INBOX",
		MessageID:  "<msg-42@example.com>",
		Subject:    "Hello",
		From:       interfaces.RawAddress{Name: "Ana Ruiz", Address: "ana@example.com"},
		To:         []interfaces.RawAddress{{Address: "me@example.com"}},
		Cc:         []interfaces.RawAddress{{Address: "cc@example.com"}},
		BodyText:   "Hello there, this is the body.",
		ReceivedAt: receivedAt,
	}

	repo.On("GetByUID", mock.Anything, "acct_test1", "INBOX", uint32(42)).Return(nil, nil)
	repo.On("GetByMessageID", mock.Anything, "acct_test1", "<msg-42@example.com>").Return(nil, nil)

	var created *models.Email
	repo.On("CreateWithAssociations", mock.Anything, mock.AnythingOfType("*models.Email")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*models.Email)
			created.ID = "email_new1"
		}).
		Return(nil)
	events.On("PublishEmailReceived", mock.Anything, "acct_test1", "email_new1").Return(nil)

	// Act
	wasCreated, err := ingester.IngestMessage(context.Background(), testAccount(), msg)

	// Assert
	require.NoError(t, err)
	assert.True(t, wasCreated)
	require.NotNil(t, created)
	assert.Equal(t, "acct_test1", created.AccountID)
	assert.Equal(t, uint32(42), created.ImapUID)
	assert.Equal(t, "msg-42@example.com", created.MessageID)
	assert.Equal(t, "ana@example.com", created.FromAddress)
	assert.Equal(t, "Hello there, this is the body.", created.Preview)
	require.Len(t, created.Recipients, 2)
	assert.Equal(t, enum.RecipientTo, created.Recipients[0].Kind)
	assert.Equal(t, enum.RecipientCc, created.Recipients[1].Kind)
	require.NotNil(t, created.ReceivedAt)
	assert.Equal(t, receivedAt, *created.ReceivedAt)
	repo.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestIngestMessage_DuplicateReconcilesFlags(t *testing.T) {
	// Arrange
	repo := &mockEmailRepository{}
	ingester := NewMessageIngester(getLogger(), repo, nil)

	existing := &models.Email{ID: "email_dup", IsRead: false, IsStarred: false}
	repo.On("GetByProviderMessageID", mock.Anything, "acct_test1", "gm-1").Return(existing, nil)
	repo.On("UpdateFlags", mock.Anything, "email_dup", true, false).Return(nil)

	msg := &interfaces.RawMessage{
		ProviderMessageID: "gm-1",
		Folder:            "INBOX",
		BodyText:          "body",
		IsRead:            true,
	}

	// Act
	created, err := ingester.IngestMessage(context.Background(), testAccount(), msg)

	// Assert
	require.NoError(t, err)
	assert.False(t, created)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "CreateWithAssociations", mock.Anything, mock.Anything)
}

func TestIngestMessage_DuplicateWithSameFlagsSkipsUpdate(t *testing.T) {
	// Arrange
	repo := &mockEmailRepository{}
	ingester := NewMessageIngester(getLogger(), repo, nil)

	existing := &models.Email{ID: "email_dup", IsRead: true, IsStarred: true}
	repo.On("GetByProviderMessageID", mock.Anything, "acct_test1", "gm-2").Return(existing, nil)

	msg := &interfaces.RawMessage{
		ProviderMessageID: "gm-2",
		IsRead:            true,
		IsStarred:         true,
	}

	// Act
	created, err := ingester.IngestMessage(context.Background(), testAccount(), msg)

	// Assert
	require.NoError(t, err)
	assert.False(t, created)
	repo.AssertNotCalled(t, "UpdateFlags", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestMessage_ParsesRawBody(t *testing.T) {
	// Arrange
	repo := &mockEmailRepository{}
	ingester := NewMessageIngester(getLogger(), repo, nil)

	rawBody := strings.Join([]string{
		"From: Ana Ruiz <ana@example.com>",
		"To: me@example.com",
		"Subject: Plain message",
		"Message-ID: <raw-1@example.com>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"This is the plain body.",
	}, "\r\n")

	msg := &interfaces.RawMessage{
		ImapUID: 9,
		Folder:  "INBOX",
		From:    interfaces.RawAddress{Address: "ana@example.com"},
		RawBody: []byte(rawBody),
	}

	repo.On("GetByUID", mock.Anything, "acct_test1", "INBOX", uint32(9)).Return(nil, nil)
	repo.On("GetByMessageID", mock.Anything, "acct_test1", "<raw-1@example.com>").Return(nil, nil)

	var created *models.Email
	repo.On("CreateWithAssociations", mock.Anything, mock.AnythingOfType("*models.Email")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*models.Email)
		}).
		Return(nil)

	// Act
	wasCreated, err := ingester.IngestMessage(context.Background(), testAccount(), msg)

	// Assert
	require.NoError(t, err)
	assert.True(t, wasCreated)
	require.NotNil(t, created)
	assert.Equal(t, "Plain message", created.Subject)
	assert.Equal(t, "raw-1@example.com", created.MessageID)
	assert.Contains(t, created.BodyText, "This is the plain body.")
}

func TestIngestMessage_AttachmentMetadataFromRawBody(t *testing.T) {
	// Arrange
	repo := &mockEmailRepository{}
	ingester := NewMessageIngester(getLogger(), repo, nil)

	// "JVBERi0xLjQ=" decodes to "%PDF-1.4", 8 bytes
	rawBody := strings.Join([]string{
		"From: Ana Ruiz <ana@example.com>",
		"To: me@example.com",
		"Subject: With attachment",
		"Message-ID: <raw-2@example.com>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"See attached.",
		"--b1",
		`Content-Type: application/pdf; name="report.pdf"`,
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQ=",
		"--b1--",
	}, "\r\n")

	msg := &interfaces.RawMessage{
		ImapUID: 12,
		Folder:  "INBOX",
		From:    interfaces.RawAddress{Address: "ana@example.com"},
		RawBody: []byte(rawBody),
	}

	repo.On("GetByUID", mock.Anything, "acct_test1", "INBOX", uint32(12)).Return(nil, nil)
	repo.On("GetByMessageID", mock.Anything, "acct_test1", "<raw-2@example.com>").Return(nil, nil)

	var created *models.Email
	repo.On("CreateWithAssociations", mock.Anything, mock.AnythingOfType("*models.Email")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*models.Email)
		}).
		Return(nil)

	// Act
	wasCreated, err := ingester.IngestMessage(context.Background(), testAccount(), msg)

	// Assert
	require.NoError(t, err)
	assert.True(t, wasCreated)
	require.NotNil(t, created)
	require.Len(t, created.Attachments, 1)
	attachment := created.Attachments[0]
	assert.Equal(t, "report.pdf", attachment.Filename)
	assert.Equal(t, "application/pdf", attachment.ContentType)
	assert.Equal(t, int64(8), attachment.Size)
	assert.False(t, attachment.IsInline)
	// folder/uid/part-number, enough to re-fetch the bytes over IMAP
	assert.Equal(t, "INBOX/12/2", attachment.StorageReference)
}

func TestIngestMessage_DuplicateKeyRaceTreatedAsExisting(t *testing.T) {
	// Arrange
	repo := &mockEmailRepository{}
	ingester := NewMessageIngester(getLogger(), repo, nil)

	repo.On("GetByProviderMessageID", mock.Anything, "acct_test1", "gm-3").Return(nil, nil)
	repo.On("CreateWithAssociations", mock.Anything, mock.Anything).
		Return(assert.AnError).Once()

	msg := &interfaces.RawMessage{ProviderMessageID: "gm-3", BodyText: "body"}

	// The generic error surfaces as a persistence failure
	created, err := ingester.IngestMessage(context.Background(), testAccount(), msg)
	require.Error(t, err)
	assert.False(t, created)
	assert.True(t, syncerrors.IsKind(err, syncerrors.KindPersistence))
}

func TestBuildPreview(t *testing.T) {
	assert.Equal(t, "plain text wins", BuildPreview("plain text wins", "<p>ignored</p>"))

	// HTML is stripped when no plain text exists
	preview := BuildPreview("", "<html><body><style>p{color:red}</style><p>Hello  <b>world</b></p></body></html>")
	assert.Equal(t, "Hello world", preview)

	// Whitespace collapses
	assert.Equal(t, "a b c", BuildPreview("a\n\n b\t\tc", ""))

	// &nbsp; runs become U+00A0 after stripping and collapse too
	preview = BuildPreview("", "<p>Hello&nbsp;&nbsp;world,&nbsp; nice&nbsp;day</p>")
	assert.Equal(t, "Hello world, nice day", preview)

	assert.Equal(t, "", BuildPreview("", ""))
	assert.Equal(t, "", BuildPreview("   ", ""))
}

func TestBuildPreview_TruncatesAt200(t *testing.T) {
	long := strings.Repeat("x", 450)

	preview := BuildPreview(long, "")

	assert.Len(t, preview, 203)
	assert.True(t, strings.HasSuffix(preview, "..."))
}
