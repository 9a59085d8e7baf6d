package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/domain/webhook"
)

// GormWebhookRecordRepository implements webhook.RecordRepository using GORM
type GormWebhookRecordRepository struct {
	db *gorm.DB
}

// NewGormWebhookRecordRepository creates a new GormWebhookRecordRepository
func NewGormWebhookRecordRepository(db *gorm.DB) *GormWebhookRecordRepository {
	return &GormWebhookRecordRepository{db: db}
}

// Create durably inserts a record before any business logic runs
func (r *GormWebhookRecordRepository) Create(ctx context.Context, rec *webhook.Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// FindByID finds a record by ID
func (r *GormWebhookRecordRepository) FindByID(ctx context.Context, id uint64) (*webhook.Record, error) {
	var rec webhook.Record
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// UpdateRouting stores the decoded envelope discriminators
func (r *GormWebhookRecordRepository) UpdateRouting(ctx context.Context, id uint64, eventType, resource, action, eventID string) error {
	result := r.db.WithContext(ctx).
		Model(&webhook.Record{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"event_type": eventType,
			"resource":   resource,
			"action":     action,
			"event_id":   eventID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MarkProcessing moves a record from received to processing
func (r *GormWebhookRecordRepository) MarkProcessing(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).
		Model(&webhook.Record{}).
		Where("id = ? AND status = ?", id, webhook.RecordStatusReceived).
		Updates(map[string]interface{}{
			"status": webhook.RecordStatusProcessing,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrInvalidState
	}
	return nil
}

// MarkSuccess moves a record to success and merges the metadata patch
func (r *GormWebhookRecordRepository) MarkSuccess(ctx context.Context, id uint64, responseCode int, patch webhook.Metadata) error {
	return r.finalize(ctx, id, webhook.RecordStatusSuccess, responseCode, "", patch)
}

// MarkError moves a record to error with the failure context
func (r *GormWebhookRecordRepository) MarkError(ctx context.Context, id uint64, message string, responseCode int) error {
	return r.finalize(ctx, id, webhook.RecordStatusError, responseCode, message, nil)
}

// finalize loads, mutates and saves inside a transaction so the metadata
// merge cannot lose a concurrent patch.
func (r *GormWebhookRecordRepository) finalize(ctx context.Context, id uint64, status webhook.RecordStatus, responseCode int, message string, patch webhook.Metadata) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec webhook.Record
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}

		if rec.Status == webhook.RecordStatusSuccess || rec.Status == webhook.RecordStatusError {
			return shared.ErrInvalidState
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":        status,
			"response_code": responseCode,
			"processed_at":  &now,
		}
		if message != "" {
			updates["error_message"] = message
		}
		if len(patch) > 0 {
			rec.Metadata.Merge(patch)
			updates["metadata"] = rec.Metadata
		}

		return tx.Model(&rec).Updates(updates).Error
	})
}

// AddMetadata merges the patch into the record's metadata bag
func (r *GormWebhookRecordRepository) AddMetadata(ctx context.Context, id uint64, patch webhook.Metadata) error {
	if len(patch) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec webhook.Record
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}
		rec.Metadata.Merge(patch)
		return tx.Model(&rec).Update("metadata", rec.Metadata).Error
	})
}

// ListRecent lists records newest-first with filtering and pagination
func (r *GormWebhookRecordRepository) ListRecent(ctx context.Context, filter webhook.RecordFilter) ([]webhook.Record, int64, error) {
	query := r.db.WithContext(ctx).Model(&webhook.Record{})

	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	var records []webhook.Record
	err := query.
		Order("received_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

var _ webhook.RecordRepository = (*GormWebhookRecordRepository)(nil)
