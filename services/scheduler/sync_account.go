package scheduler

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/models"
	"github.com/armysheng/ai-mail/internal/syncerrors"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/internal/utils"
)

// syncAccount runs one full pass for a claimed account and releases
// the claim with the outcome. The caller guarantees exclusive
// ownership of the account for the duration.
func (s *SyncScheduler) syncAccount(ctx context.Context, account *models.EmailAccount) {
	span, ctx := tracing.StartTracerSpan(ctx, "SyncScheduler.syncAccount")
	defer span.Finish()
	tracing.TagComponentCronJob(span)
	tracing.TagAccount(span, account.ID)
	tracing.TagProvider(span, account.Provider)

	started := utils.Now()
	s.log.Infof("starting sync pass for account %s (%s)", account.ID, account.EmailAddress)

	newEmails, err := s.runPass(ctx, account)

	nextSyncAt := utils.Now().Add(account.SyncInterval())

	if err != nil {
		kind := syncerrors.KindOf(err)
		span.SetTag("error.kind", string(kind))
		tracing.TraceErr(span, err)

		if kind == syncerrors.KindDecryption {
			// Unrecoverable without new credentials; stop scheduling
			s.log.Errorf("account %s: credentials unreadable, disabling sync: %v", account.ID, err)
			if dErr := s.repos.AccountRepository.DisableSync(ctx, account.ID, err.Error()); dErr != nil {
				s.log.Errorf("account %s: failed to disable sync: %v", account.ID, dErr)
			}
			s.recordStatus(account.ID, interfaces.AccountSyncStatus{
				Status:    enum.SyncStatusError,
				LastError: err.Error(),
			})
			return
		}

		s.log.Errorf("account %s: sync pass failed (%s): %v", account.ID, kind, err)
		if uErr := s.repos.AccountRepository.UpdateSyncStatus(ctx, account.ID, enum.SyncStatusError, err.Error(), &nextSyncAt); uErr != nil {
			s.log.Errorf("account %s: failed to record sync error: %v", account.ID, uErr)
		}
		s.recordStatus(account.ID, interfaces.AccountSyncStatus{
			Status:     enum.SyncStatusError,
			NextSyncAt: &nextSyncAt,
			LastError:  err.Error(),
		})
		return
	}

	s.updateAccountStats(ctx, account.ID)

	if err := s.repos.AccountRepository.UpdateSyncStatus(ctx, account.ID, enum.SyncStatusActive, "", &nextSyncAt); err != nil {
		s.log.Errorf("account %s: failed to record sync success: %v", account.ID, err)
	}

	if s.events != nil && newEmails > 0 {
		if err := s.events.PublishSyncCompleted(ctx, account.ID, newEmails); err != nil {
			s.log.Warnf("account %s: failed to publish sync.completed: %v", account.ID, err)
		}
	}

	completedAt := utils.Now()
	s.recordStatus(account.ID, interfaces.AccountSyncStatus{
		Status:     enum.SyncStatusActive,
		LastSyncAt: &completedAt,
		NextSyncAt: &nextSyncAt,
	})

	s.log.Infof("account %s: sync pass done, %d new emails in %s", account.ID, newEmails, time.Since(started).Round(time.Millisecond))
}

// runPass decrypts credentials and walks every configured folder. An
// auth failure gets one token refresh and one retry before giving up.
func (s *SyncScheduler) runPass(ctx context.Context, account *models.EmailAccount) (int, error) {
	adapter, ok := s.adapters[account.Provider]
	if !ok {
		return 0, syncerrors.New(syncerrors.KindConnection, "no adapter for provider "+account.Provider.String())
	}

	creds, err := s.accounts.DecryptedCredentials(ctx, account)
	if err != nil {
		return 0, err
	}

	newEmails, err := s.syncFolders(ctx, account, creds, adapter)
	if err != nil && syncerrors.KindOf(err) == syncerrors.KindAuth && account.Provider == enum.ProviderGmail {
		s.log.Infof("account %s: auth failure, attempting token refresh", account.ID)
		refreshed, rErr := s.accounts.RefreshAccessToken(ctx, account)
		if rErr != nil {
			return newEmails, rErr
		}
		retried, err := s.syncFolders(ctx, account, refreshed, adapter)
		return newEmails + retried, err
	}

	return newEmails, err
}

func (s *SyncScheduler) syncFolders(ctx context.Context, account *models.EmailAccount, creds *interfaces.DecryptedCredentials, adapter interfaces.SyncAdapter) (int, error) {
	limits := interfaces.FetchLimits{
		MaxMessages:     s.cfg.SchedulerConfig.MaxMessagesPerSync,
		FirstSyncWindow: s.firstSyncWindow(account),
	}

	totalNew := 0
	for _, folder := range account.Folders() {
		created, err := s.syncFolder(ctx, account, creds, adapter, folder, limits)
		totalNew += created
		if err != nil {
			return totalNew, err
		}
	}
	return totalNew, nil
}

// syncFolder runs one folder's incremental fetch. The cursor is saved
// whenever it moved, including on failure, so the next pass resumes
// after the last fully persisted message instead of refetching.
func (s *SyncScheduler) syncFolder(
	ctx context.Context,
	account *models.EmailAccount,
	creds *interfaces.DecryptedCredentials,
	adapter interfaces.SyncAdapter,
	folder string,
	limits interfaces.FetchLimits,
) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncScheduler.syncFolder")
	defer span.Finish()
	tracing.TagComponentCronJob(span)
	tracing.TagAccount(span, account.ID)
	tracing.TagFolder(span, folder)

	cursor := ""
	state, err := s.repos.SyncStateRepository.GetSyncState(ctx, account.ID, folder)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, syncerrors.Persistence(err, "failed to load sync state")
	}
	if state != nil {
		cursor = state.Cursor
	}

	newEmails := 0
	skipped := 0

	handler := func(ctx context.Context, msg *interfaces.RawMessage) error {
		created, err := s.ingester.IngestMessage(ctx, account, msg)
		if err != nil {
			if syncerrors.IsKind(err, syncerrors.KindParse) {
				// One bad message never stalls the folder; the cursor
				// moves past it and it is logged for forensics.
				skipped++
				s.log.Warnf("account %s folder %s: skipping unparseable message: %v", account.ID, folder, err)
				return nil
			}
			return err
		}
		if created {
			newEmails++
		}
		return nil
	}

	newCursor, fetchErr := adapter.FetchSince(ctx, account, creds, folder, cursor, limits, handler)

	if newCursor != cursor && newCursor != "" {
		saveErr := s.repos.SyncStateRepository.SaveSyncState(ctx, &models.FolderSyncState{
			AccountID:  account.ID,
			FolderName: folder,
			Cursor:     newCursor,
		})
		if saveErr != nil {
			tracing.TraceErr(span, saveErr)
			if fetchErr == nil {
				fetchErr = syncerrors.Persistence(saveErr, "failed to save sync cursor")
			}
		}
	}

	span.SetTag("emails.new", newEmails)
	span.SetTag("emails.skipped", skipped)
	if fetchErr != nil {
		tracing.TraceErr(span, fetchErr)
	}

	return newEmails, fetchErr
}

func (s *SyncScheduler) firstSyncWindow(account *models.EmailAccount) time.Duration {
	days := account.MaxHistoryDays
	if days <= 0 {
		days = s.cfg.SchedulerConfig.FirstSyncWindowDays
	}
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func (s *SyncScheduler) updateAccountStats(ctx context.Context, accountID string) {
	total, unread, err := s.repos.EmailRepository.CountByAccount(ctx, accountID)
	if err != nil {
		s.log.Warnf("account %s: failed to count emails: %v", accountID, err)
		return
	}
	if err := s.repos.AccountRepository.UpdateEmailStats(ctx, accountID, int(total), int(unread)); err != nil {
		s.log.Warnf("account %s: failed to update email stats: %v", accountID, err)
	}
}
