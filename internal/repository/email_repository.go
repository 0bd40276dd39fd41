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

type emailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) interfaces.EmailRepository {
	return &emailRepository{db: db}
}

// CreateWithAssociations writes the email plus its recipients and
// attachment rows in one transaction. A failure anywhere rolls the
// whole message back so replay can retry it cleanly.
func (r *emailRepository) CreateWithAssociations(ctx context.Context, email *models.Email) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.CreateWithAssociations")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, email.AccountID)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(email).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create email: %w", err)
	}
	return nil
}

func (r *emailRepository) GetByID(ctx context.Context, id string) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var email models.Email
	result := r.db.WithContext(ctx).
		Preload("Recipients").
		Preload("Attachments").
		Where("id = ?", id).
		First(&email)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get email: %w", result.Error)
	}

	return &email, nil
}

func (r *emailRepository) GetByUID(ctx context.Context, accountID, folder string, uid uint32) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByUID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var email models.Email
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder = ? AND imap_uid = ?", accountID, folder, uid).
		First(&email)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get email by uid: %w", result.Error)
	}

	return &email, nil
}

func (r *emailRepository) GetByProviderMessageID(ctx context.Context, accountID, providerMessageID string) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByProviderMessageID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var email models.Email
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND provider_message_id = ?", accountID, providerMessageID).
		First(&email)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get email by provider message id: %w", result.Error)
	}

	return &email, nil
}

func (r *emailRepository) GetByMessageID(ctx context.Context, accountID, messageID string) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByMessageID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	if messageID == "" {
		return nil, nil
	}

	var email models.Email
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND message_id = ?", accountID, utils.NormalizeMessageID(messageID)).
		First(&email)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get email by message id: %w", result.Error)
	}

	return &email, nil
}

func (r *emailRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.Email, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.ListByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("account_id = ?", accountID).
		Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to count emails: %w", err)
	}

	var emails []*models.Email
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("received_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&emails).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to list emails: %w", err)
	}

	return emails, total, nil
}

func (r *emailRepository) ListByFolder(ctx context.Context, accountID, folder string, limit, offset int) ([]*models.Email, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.ListByFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folder)

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("account_id = ? AND folder = ?", accountID, folder).
		Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to count folder emails: %w", err)
	}

	var emails []*models.Email
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND folder = ?", accountID, folder).
		Order("received_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&emails).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to list folder emails: %w", err)
	}

	return emails, total, nil
}

func (r *emailRepository) UpdateFlags(ctx context.Context, id string, isRead, isStarred bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.UpdateFlags")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_read":    isRead,
			"is_starred": isStarred,
			"updated_at": utils.Now(),
		})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update email flags: %w", result.Error)
	}
	return nil
}

func (r *emailRepository) CountByAccount(ctx context.Context, accountID string) (int64, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.CountByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("account_id = ?", accountID).
		Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, 0, fmt.Errorf("failed to count emails: %w", err)
	}

	var unread int64
	if err := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("account_id = ? AND is_read = ?", accountID, false).
		Count(&unread).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, 0, fmt.Errorf("failed to count unread emails: %w", err)
	}

	return total, unread, nil
}

func (r *emailRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.DeleteByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.Email{}).
			Where("account_id = ?", accountID).
			Pluck("id", &ids).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to collect account emails: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("email_id IN ?", ids).Delete(&models.EmailRecipient{}).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to delete recipients: %w", err)
		}
		if err := tx.Where("email_id IN ?", ids).Delete(&models.EmailAttachment{}).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&models.Email{}).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to delete emails: %w", err)
		}
		return nil
	})
}
