package imapsync

import (
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/syncerrors"
)

func testAdapter(t *testing.T) *ImapAdapter {
	t.Helper()
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()
	return &ImapAdapter{log: log}
}

func TestParseCursor(t *testing.T) {
	uid, err := parseCursor("")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), uid)

	uid, err = parseCursor("4213")
	require.NoError(t, err)
	assert.Equal(t, uint32(4213), uid)

	_, err = parseCursor("not-a-uid")
	require.Error(t, err)
	assert.True(t, syncerrors.IsKind(err, syncerrors.KindPersistence))
}

func TestFormatCursor(t *testing.T) {
	assert.Equal(t, "", formatCursor(0))
	assert.Equal(t, "17", formatCursor(17))
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := formatCursor(98765)
	uid, err := parseCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, uint32(98765), uid)
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, isAuthError(errors.New("LOGIN failed.")))
	assert.True(t, isAuthError(errors.New("[AUTHENTICATIONFAILED] Invalid credentials (Failure)")))
	assert.True(t, isAuthError(errors.New("Username and Password not accepted.")))

	assert.False(t, isAuthError(nil))
	assert.False(t, isAuthError(errors.New("connection reset by peer")))
	assert.False(t, isAuthError(errors.New("i/o timeout")))
}

func TestToRawMessage_FlagAndEnvelopeMapping(t *testing.T) {
	adapter := testAdapter(t)
	section := &imap.BodySectionName{Peek: true}

	receivedAt := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	msg := &imap.Message{
		Uid:   101,
		Flags: []string{imap.SeenFlag, imap.FlaggedFlag},
		Envelope: &imap.Envelope{
			Date:      receivedAt,
			Subject:   "Quarterly numbers",
			MessageId: "<abc@example.com>",
			From: []*imap.Address{
				{PersonalName: "Ana Ruiz", MailboxName: "ana", HostName: "example.com"},
			},
			To: []*imap.Address{
				{MailboxName: "team", HostName: "example.com"},
			},
		},
	}

	raw := adapter.toRawMessage("INBOX", msg, section)
	require.NotNil(t, raw)

	assert.Equal(t, uint32(101), raw.ImapUID)
	assert.Equal(t, "INBOX", raw.Folder)
	assert.True(t, raw.IsRead)
	assert.True(t, raw.IsStarred)
	assert.Equal(t, "Quarterly numbers", raw.Subject)
	assert.Equal(t, "<abc@example.com>", raw.MessageID)
	assert.Equal(t, "Ana Ruiz", raw.From.Name)
	assert.Equal(t, "ana@example.com", raw.From.Address)
	require.Len(t, raw.To, 1)
	assert.Equal(t, "team@example.com", raw.To[0].Address)
	assert.Equal(t, receivedAt, raw.ReceivedAt)
}

func TestToRawMessage_SkipsMessagesWithoutUID(t *testing.T) {
	adapter := testAdapter(t)
	section := &imap.BodySectionName{Peek: true}

	assert.Nil(t, adapter.toRawMessage("INBOX", nil, section))
	assert.Nil(t, adapter.toRawMessage("INBOX", &imap.Message{}, section))
}
