package imapsync

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/models"
	"github.com/armysheng/ai-mail/internal/syncerrors"
	"github.com/armysheng/ai-mail/internal/tracing"
)

const (
	dialTimeout  = 30 * time.Second
	loginTimeout = 30 * time.Second
	fetchTimeout = 60 * time.Second

	fetchBatchSize = 50
)

// ImapAdapter speaks classic IMAP4rev1 over the uniform sync
// interface. The cursor is the highest UID already persisted, encoded
// as a decimal string.
type ImapAdapter struct {
	log logger.Logger
}

func NewImapAdapter(log logger.Logger) interfaces.SyncAdapter {
	return &ImapAdapter{log: log}
}

func (a *ImapAdapter) Provider() enum.EmailProvider {
	return enum.ProviderIMAP
}

func (a *ImapAdapter) TestConnection(ctx context.Context, account *models.EmailAccount, creds *interfaces.DecryptedCredentials) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ImapAdapter.TestConnection")
	defer span.Finish()
	tracing.TagComponentSyncAdapter(span)
	tracing.TagAccount(span, account.ID)

	c, err := a.connect(ctx, account, creds)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	a.disconnect(account.ID, c)
	return nil
}

// FetchSince selects the folder read-only and streams every message
// with a UID above the cursor, oldest first. The returned cursor covers
// exactly the contiguous prefix the handler accepted.
func (a *ImapAdapter) FetchSince(
	ctx context.Context,
	account *models.EmailAccount,
	creds *interfaces.DecryptedCredentials,
	folder string,
	cursor string,
	limits interfaces.FetchLimits,
	handler interfaces.RawMessageHandler,
) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ImapAdapter.FetchSince")
	defer span.Finish()
	tracing.TagComponentSyncAdapter(span)
	tracing.TagAccount(span, account.ID)
	tracing.TagFolder(span, folder)

	lastUID, err := parseCursor(cursor)
	if err != nil {
		tracing.TraceErr(span, err)
		return cursor, err
	}

	c, err := a.connect(ctx, account, creds)
	if err != nil {
		tracing.TraceErr(span, err)
		return cursor, err
	}
	defer a.disconnect(account.ID, c)

	// Read-only select so flags are not clobbered server-side
	if _, err := c.Select(folder, true); err != nil {
		tracing.TraceErr(span, err)
		return cursor, syncerrors.Connection(err, fmt.Sprintf("failed to select folder %s", folder))
	}

	uids, err := a.searchNewUIDs(c, lastUID, limits)
	if err != nil {
		tracing.TraceErr(span, err)
		return cursor, err
	}
	span.SetTag("uids.found", len(uids))

	if len(uids) == 0 {
		return cursor, nil
	}

	if limits.MaxMessages > 0 && len(uids) > limits.MaxMessages {
		a.log.Infof("account %s folder %s: capping sync pass at %d of %d messages", account.ID, folder, limits.MaxMessages, len(uids))
		uids = uids[:limits.MaxMessages]
	}

	newCursor := lastUID
	for i := 0; i < len(uids); i += fetchBatchSize {
		if ctx.Err() != nil {
			return formatCursor(newCursor), syncerrors.Connection(ctx.Err(), "sync cancelled")
		}

		end := i + fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}

		batch, err := a.fetchBatch(c, folder, uids[i:end])
		if err != nil {
			tracing.TraceErr(span, err)
			return formatCursor(newCursor), err
		}

		for _, msg := range batch {
			if err := handler(ctx, msg); err != nil {
				tracing.TraceErr(span, err)
				return formatCursor(newCursor), err
			}
			newCursor = msg.ImapUID
		}
	}

	return formatCursor(newCursor), nil
}

func (a *ImapAdapter) connect(ctx context.Context, account *models.EmailAccount, creds *interfaces.DecryptedCredentials) (*client.Client, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "ImapAdapter.connect")
	defer span.Finish()
	tracing.TagComponentSyncAdapter(span)
	span.SetTag("server", account.ImapServer)
	span.SetTag("port", account.ImapPort)

	serverAddr := fmt.Sprintf("%s:%d", account.ImapServer, account.ImapPort)

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error

	switch account.ImapSecurity {
	case enum.EmailSecurityNone:
		c, err = client.DialWithDialer(dialer, serverAddr)
	case enum.EmailSecurityStartTLS:
		c, err = client.DialWithDialer(dialer, serverAddr)
		if err == nil {
			err = c.StartTLS(&tls.Config{ServerName: account.ImapServer})
		}
	default:
		// ssl and tls both mean implicit TLS on connect
		c, err = client.DialWithDialerTLS(dialer, serverAddr, &tls.Config{ServerName: account.ImapServer})
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, syncerrors.Connection(err, fmt.Sprintf("failed to connect to %s", serverAddr))
	}

	c.Timeout = loginTimeout
	if err := c.Login(account.EmailAddress, creds.Password); err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		if isAuthError(err) {
			return nil, syncerrors.Auth(err, fmt.Sprintf("login rejected for %s", account.EmailAddress))
		}
		return nil, syncerrors.Connection(err, fmt.Sprintf("login failed for %s", account.EmailAddress))
	}
	c.Timeout = 0

	return c, nil
}

func (a *ImapAdapter) disconnect(accountID string, c *client.Client) {
	if c == nil {
		return
	}

	c.Timeout = 5 * time.Second
	if err := c.Logout(); err != nil {
		a.log.Warnf("account %s: error during logout: %v", accountID, err)
	}
}

// searchNewUIDs returns ascending UIDs newer than lastUID. A zero
// cursor means first sync, bounded by the configured history window
// instead of a UID range.
func (a *ImapAdapter) searchNewUIDs(c *client.Client, lastUID uint32, limits interfaces.FetchLimits) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	if lastUID > 0 {
		seqSet := new(imap.SeqSet)
		seqSet.AddRange(lastUID+1, 0)
		criteria.Uid = seqSet
	} else if limits.FirstSyncWindow > 0 {
		criteria.Since = time.Now().UTC().Add(-limits.FirstSyncWindow)
	}

	c.Timeout = fetchTimeout
	uids, err := c.UidSearch(criteria)
	c.Timeout = 0
	if err != nil {
		return nil, syncerrors.Connection(err, "uid search failed")
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	// Servers may interpret "N+1:*" as "at least the last message" when
	// nothing is newer, so drop anything at or below the cursor.
	filtered := uids[:0]
	for _, uid := range uids {
		if uid > lastUID {
			filtered = append(filtered, uid)
		}
	}

	return filtered, nil
}

// fetchBatch pulls full messages for one UID batch and returns them in
// ascending UID order regardless of server response order.
func (a *ImapAdapter) fetchBatch(c *client.Client, folder string, uids []uint32) ([]*interfaces.RawMessage, error) {
	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	c.Timeout = fetchTimeout
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var batch []*interfaces.RawMessage
	for msg := range messages {
		raw := a.toRawMessage(folder, msg, section)
		if raw != nil {
			batch = append(batch, raw)
		}
	}

	err := <-done
	c.Timeout = 0
	if err != nil {
		return nil, syncerrors.Connection(err, "uid fetch failed")
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].ImapUID < batch[j].ImapUID })
	return batch, nil
}

func (a *ImapAdapter) toRawMessage(folder string, msg *imap.Message, section *imap.BodySectionName) *interfaces.RawMessage {
	if msg == nil || msg.Uid == 0 {
		return nil
	}

	raw := &interfaces.RawMessage{
		ImapUID: msg.Uid,
		Folder:  folder,
	}

	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			raw.IsRead = true
		case imap.FlaggedFlag:
			raw.IsStarred = true
		}
	}

	if env := msg.Envelope; env != nil {
		raw.Subject = env.Subject
		raw.MessageID = env.MessageId
		raw.InReplyTo = env.InReplyTo
		if !env.Date.IsZero() {
			raw.ReceivedAt = env.Date.UTC()
		}
		if len(env.From) > 0 {
			raw.From = toRawAddress(env.From[0])
		}
		for _, addr := range env.To {
			raw.To = append(raw.To, toRawAddress(addr))
		}
		for _, addr := range env.Cc {
			raw.Cc = append(raw.Cc, toRawAddress(addr))
		}
		for _, addr := range env.Bcc {
			raw.Bcc = append(raw.Bcc, toRawAddress(addr))
		}
	}

	if body := msg.GetBody(section); body != nil {
		data, err := io.ReadAll(body)
		if err == nil {
			raw.RawBody = data
		} else {
			a.log.Warnf("folder %s uid %d: failed reading body literal: %v", folder, msg.Uid, err)
		}
	}

	return raw
}

func toRawAddress(addr *imap.Address) interfaces.RawAddress {
	return interfaces.RawAddress{
		Name:    addr.PersonalName,
		Address: addr.Address(),
	}
}

func parseCursor(cursor string) (uint32, error) {
	if cursor == "" {
		return 0, nil
	}
	uid, err := strconv.ParseUint(cursor, 10, 32)
	if err != nil {
		return 0, syncerrors.Persistence(err, fmt.Sprintf("invalid imap cursor %q", cursor))
	}
	return uint32(uid), nil
}

func formatCursor(uid uint32) string {
	if uid == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(uid), 10)
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"authenticationfailed", "authentication failed", "invalid credentials", "login failed", "username and password not accepted", "authorization failed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
