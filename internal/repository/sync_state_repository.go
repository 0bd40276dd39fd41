package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/models"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/internal/utils"
)

type syncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) interfaces.SyncStateRepository {
	return &syncStateRepository{db: db}
}

// GetSyncState retrieves the sync state for a specific account and folder
func (r *syncStateRepository) GetSyncState(ctx context.Context, accountID, folderName string) (*models.FolderSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetSyncState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var state models.FolderSyncState
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_name = ?", accountID, folderName).
		First(&state)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil // No sync state yet
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get sync state: %w", result.Error)
	}

	return &state, nil
}

// SaveSyncState saves the sync state for an account folder
func (r *syncStateRepository) SaveSyncState(ctx context.Context, state *models.FolderSyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SaveSyncState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	state.LastSync = utils.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.FolderSyncState{}).
		Where("account_id = ? AND folder_name = ?", state.AccountID, state.FolderName).
		Updates(map[string]interface{}{
			"cursor":     state.Cursor,
			"last_sync":  state.LastSync,
			"updated_at": utils.Now(),
		})

	// If no record was updated, create a new one
	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(state)
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save sync state: %w", result.Error)
	}

	return nil
}

// DeleteSyncState deletes the sync state for an account folder
func (r *syncStateRepository) DeleteSyncState(ctx context.Context, accountID, folderName string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.DeleteSyncState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_name = ?", accountID, folderName).
		Delete(&models.FolderSyncState{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete sync state: %w", result.Error)
	}

	return nil
}

// DeleteAccountSyncStates deletes all sync states for an account
func (r *syncStateRepository) DeleteAccountSyncStates(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.DeleteAccountSyncStates")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.FolderSyncState{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete account sync states: %w", result.Error)
	}

	return nil
}

// GetAccountSyncStates gets all folder cursors for an account
func (r *syncStateRepository) GetAccountSyncStates(ctx context.Context, accountID string) (map[string]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetAccountSyncStates")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var states []models.FolderSyncState
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&states).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get account sync states: %w", err)
	}

	result := make(map[string]string)
	for _, state := range states {
		result[state.FolderName] = state.Cursor
	}

	return result, nil
}
