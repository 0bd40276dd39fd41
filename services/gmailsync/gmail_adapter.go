package gmailsync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/models"
	"github.com/armysheng/ai-mail/internal/syncerrors"
	"github.com/armysheng/ai-mail/internal/tracing"
)

const (
	listPageSize = 100

	// maxPartDepth caps the recursive MIME walk. Nested multiparts past
	// this depth are ignored rather than risking unbounded recursion on
	// a hostile payload.
	maxPartDepth = 10
)

// GmailAdapter syncs through the Gmail REST API instead of IMAP. The
// cursor is the highest internalDate seen so far, in epoch seconds.
type GmailAdapter struct {
	log logger.Logger
}

func NewGmailAdapter(log logger.Logger) interfaces.SyncAdapter {
	return &GmailAdapter{log: log}
}

func (a *GmailAdapter) Provider() enum.EmailProvider {
	return enum.ProviderGmail
}

func (a *GmailAdapter) TestConnection(ctx context.Context, account *models.EmailAccount, creds *interfaces.DecryptedCredentials) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailAdapter.TestConnection")
	defer span.Finish()
	tracing.TagComponentSyncAdapter(span)
	tracing.TagAccount(span, account.ID)

	svc, err := a.service(ctx, creds)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if _, err := svc.Users.GetProfile("me").Context(ctx).Do(); err != nil {
		tracing.TraceErr(span, err)
		return classifyGmailError(err, "failed to fetch gmail profile")
	}
	return nil
}

// FetchSince lists message ids newer than the cursor, fetches each in
// full and hands them to the handler oldest first so the cursor can
// advance monotonically.
func (a *GmailAdapter) FetchSince(
	ctx context.Context,
	account *models.EmailAccount,
	creds *interfaces.DecryptedCredentials,
	folder string,
	cursor string,
	limits interfaces.FetchLimits,
	handler interfaces.RawMessageHandler,
) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailAdapter.FetchSince")
	defer span.Finish()
	tracing.TagComponentSyncAdapter(span)
	tracing.TagAccount(span, account.ID)
	tracing.TagFolder(span, folder)

	lastSeen, err := parseCursor(cursor)
	if err != nil {
		tracing.TraceErr(span, err)
		return cursor, err
	}

	svc, err := a.service(ctx, creds)
	if err != nil {
		tracing.TraceErr(span, err)
		return cursor, err
	}

	ids, err := a.listMessageIDs(ctx, svc, buildQuery(folder, lastSeen, limits.FirstSyncWindow), limits.MaxMessages)
	if err != nil {
		tracing.TraceErr(span, err)
		return cursor, err
	}
	span.SetTag("messages.found", len(ids))

	if len(ids) == 0 {
		return cursor, nil
	}

	msgs, err := a.fetchMessages(ctx, svc, folder, ids, lastSeen)
	if err != nil {
		tracing.TraceErr(span, err)
		return cursor, err
	}

	newCursor := lastSeen
	for _, item := range msgs {
		if err := handler(ctx, item.raw); err != nil {
			tracing.TraceErr(span, err)
			return formatCursor(newCursor), err
		}
		if item.internalDate > newCursor {
			newCursor = item.internalDate
		}
	}

	return formatCursor(newCursor), nil
}

func (a *GmailAdapter) service(ctx context.Context, creds *interfaces.DecryptedCredentials) (*gmail.Service, error) {
	if creds.AccessToken == "" {
		return nil, syncerrors.New(syncerrors.KindAuth, "gmail account has no access token")
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, syncerrors.Connection(err, "failed to create gmail client")
	}
	return svc, nil
}

func (a *GmailAdapter) listMessageIDs(ctx context.Context, svc *gmail.Service, query string, maxMessages int) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		call := svc.Users.Messages.List("me").Q(query).MaxResults(listPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, classifyGmailError(err, "failed to list gmail messages")
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if maxMessages > 0 && len(ids) >= maxMessages {
				return ids, nil
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return ids, nil
		}
	}
}

type fetchedMessage struct {
	raw          *interfaces.RawMessage
	internalDate int64
}

// fetchMessages pulls each message in full and returns them sorted by
// internalDate ascending. Messages at or below the cursor are dropped;
// the after: query has whole-day granularity and re-returns the
// boundary day.
func (a *GmailAdapter) fetchMessages(ctx context.Context, svc *gmail.Service, folder string, ids []string, lastSeen int64) ([]fetchedMessage, error) {
	msgs := make([]fetchedMessage, 0, len(ids))

	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, syncerrors.Connection(ctx.Err(), "sync cancelled")
		}

		msg, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, classifyGmailError(err, fmt.Sprintf("failed to fetch gmail message %s", id))
		}

		internalDate := msg.InternalDate / 1000
		if lastSeen > 0 && internalDate <= lastSeen {
			continue
		}

		msgs = append(msgs, fetchedMessage{
			raw:          a.toRawMessage(folder, msg),
			internalDate: internalDate,
		})
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].internalDate < msgs[j].internalDate })
	return msgs, nil
}

func (a *GmailAdapter) toRawMessage(folder string, msg *gmail.Message) *interfaces.RawMessage {
	raw := &interfaces.RawMessage{
		ProviderMessageID: msg.Id,
		ThreadID:          msg.ThreadId,
		Folder:            folder,
		GmailLabels:       msg.LabelIds,
		IsRead:            true,
		Headers:           map[string]string{},
	}

	if msg.InternalDate > 0 {
		raw.ReceivedAt = time.Unix(msg.InternalDate/1000, 0).UTC()
	}

	for _, label := range msg.LabelIds {
		switch label {
		case "UNREAD":
			raw.IsRead = false
		case "STARRED":
			raw.IsStarred = true
		}
	}

	if msg.Payload == nil {
		return raw
	}

	for _, header := range msg.Payload.Headers {
		raw.Headers[header.Name] = header.Value
		switch strings.ToLower(header.Name) {
		case "subject":
			raw.Subject = header.Value
		case "message-id":
			raw.MessageID = header.Value
		case "in-reply-to":
			raw.InReplyTo = header.Value
		case "from":
			if addrs := parseAddressList(header.Value); len(addrs) > 0 {
				raw.From = addrs[0]
			}
		case "to":
			raw.To = parseAddressList(header.Value)
		case "cc":
			raw.Cc = parseAddressList(header.Value)
		case "bcc":
			raw.Bcc = parseAddressList(header.Value)
		}
	}

	walkParts(raw, msg.Payload, 0)
	return raw
}

// walkParts recursively extracts bodies and attachment metadata from
// the Gmail part tree.
func walkParts(raw *interfaces.RawMessage, part *gmail.MessagePart, depth int) {
	if part == nil || depth > maxPartDepth {
		return
	}

	if part.Filename != "" && part.Body != nil {
		raw.Attachments = append(raw.Attachments, interfaces.RawAttachment{
			Filename:         part.Filename,
			ContentType:      part.MimeType,
			ContentID:        headerValue(part.Headers, "Content-ID"),
			Size:             part.Body.Size,
			IsInline:         strings.Contains(headerValue(part.Headers, "Content-Disposition"), "inline"),
			StorageReference: part.Body.AttachmentId,
		})
	} else if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				if raw.BodyText == "" {
					raw.BodyText = string(data)
				}
			case "text/html":
				if raw.BodyHTML == "" {
					raw.BodyHTML = string(data)
				}
			}
		}
	}

	for _, child := range part.Parts {
		walkParts(raw, child, depth+1)
	}
}

func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func parseAddressList(value string) []interfaces.RawAddress {
	if value == "" {
		return nil
	}

	parsed, err := mail.ParseAddressList(value)
	if err != nil {
		// Keep the raw string rather than dropping the recipient
		return []interfaces.RawAddress{{Address: strings.TrimSpace(value)}}
	}

	addrs := make([]interfaces.RawAddress, 0, len(parsed))
	for _, p := range parsed {
		addrs = append(addrs, interfaces.RawAddress{Name: p.Name, Address: p.Address})
	}
	return addrs
}

// buildQuery translates the cursor into a Gmail search expression.
// after: takes epoch seconds and is inclusive at day granularity, so
// fetchMessages re-filters precisely by internalDate.
func buildQuery(folder string, lastSeen int64, firstSyncWindow time.Duration) string {
	var parts []string

	switch strings.ToUpper(folder) {
	case "", "INBOX":
		parts = append(parts, "in:inbox")
	case "SENT":
		parts = append(parts, "in:sent")
	default:
		parts = append(parts, fmt.Sprintf("label:%s", strings.ToLower(folder)))
	}

	if lastSeen > 0 {
		parts = append(parts, fmt.Sprintf("after:%d", lastSeen))
	} else if firstSyncWindow > 0 {
		parts = append(parts, fmt.Sprintf("after:%d", time.Now().UTC().Add(-firstSyncWindow).Unix()))
	}

	return strings.Join(parts, " ")
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	epoch, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0, syncerrors.Persistence(err, fmt.Sprintf("invalid gmail cursor %q", cursor))
	}
	return epoch, nil
}

func formatCursor(epoch int64) string {
	if epoch == 0 {
		return ""
	}
	return strconv.FormatInt(epoch, 10)
}

func classifyGmailError(err error, msg string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return syncerrors.Auth(err, msg)
		}
	}
	return syncerrors.Connection(err, msg)
}
