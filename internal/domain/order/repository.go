package order

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for order persistence
type Repository interface {
	// FindByID finds an order by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// FindByOrderNumber finds an order by its internal canonical identifier
	FindByOrderNumber(ctx context.Context, orderNumber string) (*Order, error)

	// FindByPaymentID finds an order by the foreign-system payment identifier
	FindByPaymentID(ctx context.Context, paymentID string) (*Order, error)

	// FindByERPOrderID finds an order by the foreign-system order identifier
	FindByERPOrderID(ctx context.Context, erpOrderID string) (*Order, error)

	// Save creates or updates an order
	Save(ctx context.Context, o *Order) error

	// SaveWithLock saves with an optimistic version check so that two
	// notifications about the same order cannot interleave their writes
	SaveWithLock(ctx context.Context, o *Order) error

	// FindStale finds non-terminal orders whose last external sync is older
	// than the cutoff, for the batch reconciliation loop
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}
