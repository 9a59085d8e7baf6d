package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/shared"
)

// GormOrderRepository implements order.Repository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// FindByID finds an order by its ID
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var o order.Order
	if err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// FindByOrderNumber finds an order by its canonical order number
func (r *GormOrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*order.Order, error) {
	return r.findOne(ctx, "order_number = ?", orderNumber)
}

// FindByPaymentID finds an order by the payment gateway identifier
func (r *GormOrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	if paymentID == "" {
		return nil, shared.ErrNotFound
	}
	return r.findOne(ctx, "payment_id = ?", paymentID)
}

// FindByERPOrderID finds an order by the ERP identifier
func (r *GormOrderRepository) FindByERPOrderID(ctx context.Context, erpOrderID string) (*order.Order, error) {
	if erpOrderID == "" {
		return nil, shared.ErrNotFound
	}
	return r.findOne(ctx, "erp_order_id = ?", erpOrderID)
}

func (r *GormOrderRepository) findOne(ctx context.Context, query string, arg any) (*order.Order, error) {
	var o order.Order
	if err := r.db.WithContext(ctx).Where(query, arg).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// Save creates or updates an order
func (r *GormOrderRepository) Save(ctx context.Context, o *order.Order) error {
	return r.db.WithContext(ctx).Save(o).Error
}

// SaveWithLock saves with optimistic locking (checks version)
func (r *GormOrderRepository) SaveWithLock(ctx context.Context, o *order.Order) error {
	o.Version++
	o.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).
		Model(o).
		Where("id = ? AND version = ?", o.ID, o.Version-1).
		Updates(map[string]interface{}{
			"erp_order_id":          o.ERPOrderID,
			"status":                o.Status,
			"payment_status":        o.PaymentStatus,
			"payment_id":            o.PaymentID,
			"total":                 o.Total,
			"paid_at":               o.PaidAt,
			"tracking_code":         o.TrackingCode,
			"carrier":               o.Carrier,
			"last_external_sync_at": o.LastExternalSyncAt,
			"version":               o.Version,
			"updated_at":            o.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		o.Version--
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// FindStale finds non-terminal orders not synced since the cutoff
func (r *GormOrderRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]order.Order, error) {
	var orders []order.Order
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []order.Status{order.StatusDelivered, order.StatusCancelled}).
		Where("last_external_sync_at IS NULL OR last_external_sync_at < ?", cutoff).
		Order("last_external_sync_at ASC NULLS FIRST").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

var _ order.Repository = (*GormOrderRepository)(nil)
