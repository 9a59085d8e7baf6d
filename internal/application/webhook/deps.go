package webhook

import (
	"context"

	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/webhook"
	"github.com/storefront/integration/internal/infrastructure/erp"
	"github.com/storefront/integration/internal/infrastructure/payment"
)

// ERPReader is the read-back surface handlers use when a notification
// does not carry full state.
type ERPReader interface {
	GetOrder(ctx context.Context, erpOrderID string) (*erp.OrderSnapshot, error)
	GetShipment(ctx context.Context, ref string) (*erp.ShipmentDetail, error)
}

// StatusResolver maps a source's opaque status identifier onto the
// canonical status enum.
type StatusResolver interface {
	Resolve(ctx context.Context, source webhook.Source, externalID string) order.Status
}

// PaymentDetail is the authoritative payment state from the gateway.
type PaymentDetail = payment.Detail

// PaymentStatusProvider reads authoritative payment state back from the
// gateway; its notifications carry only the payment id.
type PaymentStatusProvider interface {
	PaymentStatus(ctx context.Context, paymentID string) (*PaymentDetail, error)
}
