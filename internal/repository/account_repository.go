package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/models"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/internal/utils"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.EmailAccount) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	var account models.EmailAccount
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&account)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}

	return &account, nil
}

func (r *accountRepository) GetByAddress(ctx context.Context, userID, emailAddress string) (*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByAddress")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.EmailAccount
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND email_address = ?", userID, emailAddress).
		First(&account)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get account by address: %w", result.Error)
	}

	return &account, nil
}

func (r *accountRepository) List(ctx context.Context, userID string) ([]*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.EmailAccount
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	return accounts, nil
}

func (r *accountRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.EmailAccount{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete account: %w", result.Error)
	}
	return nil
}

// ListDueForSync returns enabled accounts whose next sync time has
// passed, oldest due first. Accounts currently claimed by a worker are
// excluded so two passes never overlap.
func (r *accountRepository) ListDueForSync(ctx context.Context, now time.Time) ([]*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListDueForSync")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.EmailAccount
	if err := r.db.WithContext(ctx).
		Where("sync_enabled = ?", true).
		Where("status <> ?", enum.SyncStatusSyncing).
		Where("next_sync_at IS NULL OR next_sync_at <= ?", now).
		Order("next_sync_at ASC NULLS FIRST").
		Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list due accounts: %w", err)
	}

	return accounts, nil
}

// MarkSyncing claims the account with a guarded update. The WHERE
// clause loses the race for the second caller, so RowsAffected tells us
// whether we own the pass.
func (r *accountRepository) MarkSyncing(ctx context.Context, id string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.MarkSyncing")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.EmailAccount{}).
		Where("id = ? AND status <> ?", id, enum.SyncStatusSyncing).
		Updates(map[string]interface{}{
			"status":     enum.SyncStatusSyncing,
			"updated_at": utils.Now(),
		})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, fmt.Errorf("failed to mark account syncing: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// ResetStaleSyncing releases sync claims whose holder died mid-pass. A
// row still marked syncing with an updated_at older than the cutoff has
// no live worker behind it, so it goes back into rotation as an error.
func (r *accountRepository) ResetStaleSyncing(ctx context.Context, before time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ResetStaleSyncing")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.EmailAccount{}).
		Where("status = ? AND updated_at < ?", enum.SyncStatusSyncing, before).
		Updates(map[string]interface{}{
			"status":     enum.SyncStatusError,
			"last_error": "sync interrupted, claim released",
			"updated_at": utils.Now(),
		})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to reset stale sync claims: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *accountRepository) UpdateSyncStatus(ctx context.Context, id string, status enum.SyncStatus, lastError string, nextSyncAt *time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateSyncStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	updates := map[string]interface{}{
		"status":     status,
		"last_error": lastError,
		"updated_at": utils.Now(),
	}
	if status == enum.SyncStatusActive {
		updates["last_sync_at"] = utils.Now()
	}
	if nextSyncAt != nil {
		updates["next_sync_at"] = *nextSyncAt
	}

	result := r.db.WithContext(ctx).
		Model(&models.EmailAccount{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update sync status: %w", result.Error)
	}
	return nil
}

func (r *accountRepository) DisableSync(ctx context.Context, id string, reason string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.DisableSync")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.EmailAccount{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_enabled": false,
			"status":       enum.SyncStatusError,
			"last_error":   reason,
			"updated_at":   utils.Now(),
		})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to disable sync: %w", result.Error)
	}
	return nil
}

func (r *accountRepository) UpdateEmailStats(ctx context.Context, id string, totalEmails, unreadEmails int) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateEmailStats")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.EmailAccount{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_emails":  totalEmails,
			"unread_emails": unreadEmails,
			"updated_at":    utils.Now(),
		})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update email stats: %w", result.Error)
	}
	return nil
}

func (r *accountRepository) UpdateTokens(ctx context.Context, id string, accessTokenEncrypted string, expiresAt *time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateTokens")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.EmailAccount{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token_encrypted": accessTokenEncrypted,
			"token_expires_at":       expiresAt,
			"updated_at":             utils.Now(),
		})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}
