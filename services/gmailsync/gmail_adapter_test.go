package gmailsync

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/syncerrors"
)

func testAdapter(t *testing.T) *GmailAdapter {
	t.Helper()
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()
	return &GmailAdapter{log: log}
}

func encodeBody(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "in:inbox after:1700000000", buildQuery("INBOX", 1700000000, 0))
	assert.Equal(t, "in:sent after:1700000000", buildQuery("SENT", 1700000000, 0))
	assert.Equal(t, "label:receipts after:1700000000", buildQuery("Receipts", 1700000000, 0))

	// First sync uses the history window instead of a cursor
	query := buildQuery("INBOX", 0, 30*24*time.Hour)
	assert.True(t, strings.HasPrefix(query, "in:inbox after:"))

	assert.Equal(t, "in:inbox", buildQuery("", 0, 0))
}

func TestGmailCursorRoundTrip(t *testing.T) {
	epoch, err := parseCursor("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), epoch)

	cursor := formatCursor(1700000123)
	epoch, err = parseCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000123), epoch)

	_, err = parseCursor("history-token")
	require.Error(t, err)
	assert.True(t, syncerrors.IsKind(err, syncerrors.KindPersistence))
}

func TestToRawMessage_LabelAndHeaderMapping(t *testing.T) {
	adapter := testAdapter(t)

	msg := &gmail.Message{
		Id:           "18c2f5a7b3d",
		ThreadId:     "18c2f5a0001",
		LabelIds:     []string{"INBOX", "UNREAD", "STARRED"},
		InternalDate: 1700000000000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Invoice attached"},
				{Name: "Message-ID", Value: "<inv-1@billing.example.com>"},
				{Name: "From", Value: `"Billing" <billing@example.com>`},
				{Name: "To", Value: "me@example.com, other@example.com"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encodeBody("plain body")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encodeBody("<p>html body</p>")}},
			},
		},
	}

	raw := adapter.toRawMessage("INBOX", msg)

	assert.Equal(t, "18c2f5a7b3d", raw.ProviderMessageID)
	assert.Equal(t, "18c2f5a0001", raw.ThreadID)
	assert.False(t, raw.IsRead)
	assert.True(t, raw.IsStarred)
	assert.Equal(t, "Invoice attached", raw.Subject)
	assert.Equal(t, "<inv-1@billing.example.com>", raw.MessageID)
	assert.Equal(t, "Billing", raw.From.Name)
	assert.Equal(t, "billing@example.com", raw.From.Address)
	require.Len(t, raw.To, 2)
	assert.Equal(t, "plain body", raw.BodyText)
	assert.Equal(t, "<p>html body</p>", raw.BodyHTML)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), raw.ReceivedAt)
}

func TestToRawMessage_ReadWhenNoUnreadLabel(t *testing.T) {
	adapter := testAdapter(t)

	raw := adapter.toRawMessage("INBOX", &gmail.Message{
		Id:       "abc",
		LabelIds: []string{"INBOX"},
	})

	assert.True(t, raw.IsRead)
	assert.False(t, raw.IsStarred)
}

func TestWalkParts_CollectsAttachments(t *testing.T) {
	raw := &interfaces.RawMessage{}

	walkParts(raw, &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encodeBody("body")}},
			{
				MimeType: "application/pdf",
				Filename: "invoice.pdf",
				Headers: []*gmail.MessagePartHeader{
					{Name: "Content-Disposition", Value: `attachment; filename="invoice.pdf"`},
				},
				Body: &gmail.MessagePartBody{AttachmentId: "att-123", Size: 52000},
			},
		},
	}, 0)

	assert.Equal(t, "body", raw.BodyText)
	require.Len(t, raw.Attachments, 1)
	assert.Equal(t, "invoice.pdf", raw.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", raw.Attachments[0].ContentType)
	assert.Equal(t, "att-123", raw.Attachments[0].StorageReference)
	assert.Equal(t, int64(52000), raw.Attachments[0].Size)
	assert.False(t, raw.Attachments[0].IsInline)
}

func TestWalkParts_StopsAtDepthCap(t *testing.T) {
	// Build a chain deeper than the cap with the body at the bottom
	leaf := &gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encodeBody("too deep")}}
	part := leaf
	for i := 0; i < maxPartDepth+2; i++ {
		part = &gmail.MessagePart{MimeType: "multipart/mixed", Parts: []*gmail.MessagePart{part}}
	}

	raw := &interfaces.RawMessage{}
	walkParts(raw, part, 0)

	assert.Empty(t, raw.BodyText)
}

func TestParseAddressList(t *testing.T) {
	addrs := parseAddressList(`"Ana Ruiz" <ana@example.com>, team@example.com`)
	require.Len(t, addrs, 2)
	assert.Equal(t, "Ana Ruiz", addrs[0].Name)
	assert.Equal(t, "ana@example.com", addrs[0].Address)
	assert.Equal(t, "team@example.com", addrs[1].Address)

	// Unparseable input keeps the raw value
	addrs = parseAddressList("mailer daemon")
	require.Len(t, addrs, 1)
	assert.Equal(t, "mailer daemon", addrs[0].Address)

	assert.Nil(t, parseAddressList(""))
}

func TestClassifyGmailError(t *testing.T) {
	unauthorized := &googleapi.Error{Code: 401, Message: "Invalid Credentials"}
	err := classifyGmailError(fmt.Errorf("call failed: %w", unauthorized), "fetch failed")
	assert.True(t, syncerrors.IsKind(err, syncerrors.KindAuth))

	forbidden := &googleapi.Error{Code: 403, Message: "Access Not Configured"}
	err = classifyGmailError(forbidden, "fetch failed")
	assert.True(t, syncerrors.IsKind(err, syncerrors.KindAuth))

	err = classifyGmailError(errors.New("dial tcp: i/o timeout"), "fetch failed")
	assert.True(t, syncerrors.IsKind(err, syncerrors.KindConnection))
}
