package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"

	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/models"
	"github.com/armysheng/ai-mail/internal/syncerrors"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/internal/utils"
)

// MessageIngester turns raw adapter output into canonical rows. All
// writes for one message happen in a single transaction, so a replay
// after a mid-pass crash sees either the whole message or nothing.
type MessageIngester struct {
	log       logger.Logger
	emailRepo interfaces.EmailRepository
	events    interfaces.EventPublisher
}

func NewMessageIngester(log logger.Logger, emailRepo interfaces.EmailRepository, events interfaces.EventPublisher) interfaces.MessageIngester {
	return &MessageIngester{
		log:       log,
		emailRepo: emailRepo,
		events:    events,
	}
}

func (i *MessageIngester) IngestMessage(ctx context.Context, account *models.EmailAccount, msg *interfaces.RawMessage) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MessageIngester.IngestMessage")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, account.ID)
	tracing.TagFolder(span, msg.Folder)

	if len(msg.RawBody) > 0 && msg.BodyText == "" && msg.BodyHTML == "" {
		if err := i.parseRawBody(msg); err != nil {
			tracing.TraceErr(span, err)
			return false, err
		}
	}

	existing, err := i.findExisting(ctx, account.ID, msg)
	if err != nil {
		tracing.TraceErr(span, err)
		return false, syncerrors.Persistence(err, "duplicate lookup failed")
	}

	if existing != nil {
		span.SetTag("duplicate", true)
		if existing.IsRead != msg.IsRead || existing.IsStarred != msg.IsStarred {
			if err := i.emailRepo.UpdateFlags(ctx, existing.ID, msg.IsRead, msg.IsStarred); err != nil {
				tracing.TraceErr(span, err)
				return false, syncerrors.Persistence(err, "flag reconciliation failed")
			}
		}
		return false, nil
	}

	email := i.buildEmail(account, msg)
	if err := i.emailRepo.CreateWithAssociations(ctx, email); err != nil {
		if isDuplicateKeyError(err) {
			// Lost a race with another writer; the message exists now,
			// which is all idempotency asks for.
			span.SetTag("duplicate", true)
			return false, nil
		}
		tracing.TraceErr(span, err)
		return false, syncerrors.Persistence(err, "failed to persist email")
	}

	if i.events != nil {
		if err := i.events.PublishEmailReceived(ctx, account.ID, email.ID); err != nil {
			i.log.Warnf("account %s: failed to publish email.received for %s: %v", account.ID, email.ID, err)
		}
	}

	return true, nil
}

// findExisting checks identity keys strongest first: provider message
// id, then IMAP UID, then RFC Message-ID.
func (i *MessageIngester) findExisting(ctx context.Context, accountID string, msg *interfaces.RawMessage) (*models.Email, error) {
	if msg.ProviderMessageID != "" {
		return i.emailRepo.GetByProviderMessageID(ctx, accountID, msg.ProviderMessageID)
	}
	if msg.ImapUID > 0 {
		existing, err := i.emailRepo.GetByUID(ctx, accountID, msg.Folder, msg.ImapUID)
		if existing != nil || err != nil {
			return existing, err
		}
	}
	if msg.MessageID != "" {
		return i.emailRepo.GetByMessageID(ctx, accountID, msg.MessageID)
	}
	return nil, nil
}

// parseRawBody runs the MIME walk over the RFC 5322 source. It fills
// only fields the adapter left empty, so envelope data the server
// already provided wins.
func (i *MessageIngester) parseRawBody(msg *interfaces.RawMessage) error {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(msg.RawBody))
	if err != nil {
		return syncerrors.Parse(err, "failed to parse message body")
	}

	msg.BodyText = envelope.Text
	msg.BodyHTML = envelope.HTML

	if msg.Subject == "" {
		msg.Subject = envelope.GetHeader("Subject")
	}
	if msg.MessageID == "" {
		msg.MessageID = envelope.GetHeader("Message-ID")
	}
	if msg.InReplyTo == "" {
		msg.InReplyTo = envelope.GetHeader("In-Reply-To")
	}

	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}
	for _, key := range envelope.GetHeaderKeys() {
		if values := envelope.GetHeaderValues(key); len(values) > 0 {
			msg.Headers[key] = values[0]
		}
	}

	for _, attachment := range envelope.Attachments {
		msg.Attachments = append(msg.Attachments, interfaces.RawAttachment{
			Filename:         attachment.FileName,
			ContentType:      attachment.ContentType,
			Size:             int64(len(attachment.Content)),
			StorageReference: imapPartReference(msg, attachment.PartID),
		})
	}
	for _, inline := range envelope.Inlines {
		msg.Attachments = append(msg.Attachments, interfaces.RawAttachment{
			Filename:         inline.FileName,
			ContentType:      inline.ContentType,
			ContentID:        inline.ContentID,
			Size:             int64(len(inline.Content)),
			IsInline:         true,
			StorageReference: imapPartReference(msg, inline.PartID),
		})
	}

	return nil
}

// imapPartReference is the pointer needed to re-fetch attachment bytes
// later with a BODY[section] fetch: folder, message UID and MIME part
// number.
func imapPartReference(msg *interfaces.RawMessage, partID string) string {
	if partID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%d/%s", msg.Folder, msg.ImapUID, partID)
}

func (i *MessageIngester) buildEmail(account *models.EmailAccount, msg *interfaces.RawMessage) *models.Email {
	email := &models.Email{
		AccountID:         account.ID,
		Provider:          account.Provider,
		Folder:            msg.Folder,
		ImapUID:           msg.ImapUID,
		ProviderMessageID: msg.ProviderMessageID,
		MessageID:         utils.NormalizeMessageID(msg.MessageID),
		ThreadID:          msg.ThreadID,
		InReplyTo:         utils.NormalizeMessageID(msg.InReplyTo),
		Subject:           msg.Subject,
		FromName:          msg.From.Name,
		FromAddress:       cleanAddress(msg.From.Address),
		BodyText:          msg.BodyText,
		BodyHTML:          msg.BodyHTML,
		Preview:           BuildPreview(msg.BodyText, msg.BodyHTML),
		IsRead:            msg.IsRead,
		IsStarred:         msg.IsStarred,
		GmailLabels:       msg.GmailLabels,
	}

	if !msg.ReceivedAt.IsZero() {
		receivedAt := msg.ReceivedAt.UTC()
		email.ReceivedAt = &receivedAt
	}

	if len(msg.Headers) > 0 {
		headers := make(models.JSONMap, len(msg.Headers))
		for k, v := range msg.Headers {
			headers[k] = v
		}
		email.RawHeaders = headers
	}

	email.Recipients = append(email.Recipients, buildRecipients(msg.To, enum.RecipientTo)...)
	email.Recipients = append(email.Recipients, buildRecipients(msg.Cc, enum.RecipientCc)...)
	email.Recipients = append(email.Recipients, buildRecipients(msg.Bcc, enum.RecipientBcc)...)

	for _, attachment := range msg.Attachments {
		email.Attachments = append(email.Attachments, models.EmailAttachment{
			Filename:         attachment.Filename,
			ContentType:      attachment.ContentType,
			ContentID:        attachment.ContentID,
			Size:             attachment.Size,
			IsInline:         attachment.IsInline,
			StorageReference: attachment.StorageReference,
		})
	}

	return email
}

func buildRecipients(addrs []interfaces.RawAddress, kind enum.RecipientKind) []models.EmailRecipient {
	recipients := make([]models.EmailRecipient, 0, len(addrs))
	for _, addr := range addrs {
		address := cleanAddress(addr.Address)
		if address == "" {
			continue
		}
		recipients = append(recipients, models.EmailRecipient{
			Name:    addr.Name,
			Address: address,
			Kind:    kind,
		})
	}
	return recipients
}

func cleanAddress(address string) string {
	if address == "" {
		return ""
	}
	validation := mailvalidate.ValidateEmailSyntax(address)
	if validation.IsValid {
		return validation.CleanEmail
	}
	return strings.ToLower(strings.TrimSpace(address))
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
