package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/integration/internal/application/reconcile"
	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/domain/webhook"
	"github.com/storefront/integration/internal/infrastructure/notifier"
)

// gatewayStatusMap translates the gateway's fixed vocabulary onto the
// canonical payment status. Unlike the ERP catalog this vocabulary is
// documented and stable, so a static map is correct here.
var gatewayStatusMap = map[string]order.PaymentStatus{
	"approved":     order.PaymentStatusApproved,
	"pending":      order.PaymentStatusPending,
	"in_process":   order.PaymentStatusInProcess,
	"in_mediation": order.PaymentStatusInProcess,
	"rejected":     order.PaymentStatusRejected,
	"cancelled":    order.PaymentStatusCancelled,
	"refunded":     order.PaymentStatusCancelled,
	"charged_back": order.PaymentStatusCancelled,
}

// PaymentHandler applies payment gateway notifications. The notification
// carries only a payment id; the authoritative state comes from a
// read-back against the gateway.
type PaymentHandler struct {
	orders  order.Repository
	gateway PaymentStatusProvider
	engine  *reconcile.Engine
	notify  notifier.Notifier
	logger  *zap.Logger
}

// NewPaymentHandler creates the handler for (payment, payment) events.
func NewPaymentHandler(orders order.Repository, gateway PaymentStatusProvider, engine *reconcile.Engine, alerts notifier.Notifier, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		orders:  orders,
		gateway: gateway,
		engine:  engine,
		notify:  alerts,
		logger:  logger.Named("payment_handler"),
	}
}

func (h *PaymentHandler) Handle(ctx context.Context, rec *webhook.Record, env Envelope) (HandleResult, error) {
	paymentID := env.Ref
	if paymentID == "" {
		return HandleResult{}, shared.NewDomainError("MISSING_JOIN_KEY", "Payment notification carries no payment id")
	}

	detail, err := h.gateway.PaymentStatus(ctx, paymentID)
	if err != nil {
		return HandleResult{}, err
	}

	meta := webhook.Metadata{
		"payment_id":     paymentID,
		"gateway_status": detail.Status,
	}

	o, err := h.findOrder(ctx, paymentID, detail.OrderNumber)
	if errors.Is(err, shared.ErrNotFound) {
		h.logger.Info("no local order for payment",
			zap.String("payment_id", paymentID),
			zap.String("order_number", detail.OrderNumber),
		)
		meta["order_not_found"] = "true"
		return HandleResult{Code: http.StatusOK, Metadata: meta}, nil
	}
	if err != nil {
		return HandleResult{}, err
	}

	meta["order_id"] = o.OrderNumber

	mapped, known := gatewayStatusMap[detail.Status]
	if !known {
		h.logger.Warn("unknown gateway payment status",
			zap.String("payment_id", paymentID),
			zap.String("status", detail.Status),
		)
		meta["status_unmapped"] = "true"
		return HandleResult{Code: http.StatusOK, Metadata: meta}, nil
	}

	switch mapped {
	case order.PaymentStatusApproved:
		return h.approve(ctx, o, detail, meta)

	case order.PaymentStatusRejected, order.PaymentStatusCancelled:
		if err := h.applyPaymentStatus(ctx, o, mapped); err != nil {
			return HandleResult{}, err
		}
		// A dead payment cancels the order while it is still cancellable.
		outcome, err := h.engine.ApplyStatus(ctx, o, order.StatusCancelled)
		if err != nil {
			return HandleResult{}, err
		}
		meta["transition"] = string(outcome.Result)
		return HandleResult{Code: http.StatusOK, Metadata: meta}, nil

	default:
		if err := h.applyPaymentStatus(ctx, o, mapped); err != nil {
			return HandleResult{}, err
		}
		return HandleResult{Code: http.StatusOK, Metadata: meta}, nil
	}
}

// approve runs the payment-approval chain: advance the order, push it to
// the ERP, send the confirmation. Each step is individually fault
// tolerant; only the local write can fail the notification.
func (h *PaymentHandler) approve(ctx context.Context, o *order.Order, detail *PaymentDetail, meta webhook.Metadata) (HandleResult, error) {
	paidAt := time.Now()
	if detail.PaidAt != nil {
		paidAt = *detail.PaidAt
	}

	outcome, err := h.engine.ApprovePayment(ctx, o, detail.PaymentID, detail.Amount, paidAt)
	if err != nil {
		return HandleResult{}, err
	}

	if outcome.Advanced {
		meta["transition"] = string(order.ApplyResultApplied)
	} else {
		meta["transition"] = string(order.ApplyResultUnchanged)
	}
	if !outcome.ERPSynced {
		meta["erp_sync_failed"] = "true"
		meta["erp_sync_error"] = outcome.ERPError
	}
	if outcome.ERPOrderID != "" {
		meta["erp_order_id"] = outcome.ERPOrderID
	}

	// Confirmation only on the first approval, replays stay quiet.
	if outcome.Advanced && h.notify != nil {
		err := h.notify.Notify(ctx, notifier.Alert{
			Severity: notifier.SeverityInfo,
			Subject:  "order_confirmed",
			Message:  "payment approved, order confirmed",
			Fields: map[string]string{
				"order_number": o.OrderNumber,
				"payment_id":   detail.PaymentID,
			},
		})
		if err != nil {
			h.logger.Warn("confirmation notification failed",
				zap.String("order_number", o.OrderNumber),
				zap.Error(err),
			)
			meta["notification_failed"] = "true"
		}
	}

	return HandleResult{Code: http.StatusOK, Metadata: meta}, nil
}

func (h *PaymentHandler) applyPaymentStatus(ctx context.Context, o *order.Order, status order.PaymentStatus) error {
	if o.PaymentStatus == status {
		return nil
	}
	prev := o.PaymentStatus
	if err := o.SetPaymentStatus(status); err != nil {
		return err
	}
	if err := h.orders.SaveWithLock(ctx, o); err != nil {
		o.PaymentStatus = prev
		return err
	}
	return nil
}

// findOrder tries the payment id first, then the gateway's external
// order reference.
func (h *PaymentHandler) findOrder(ctx context.Context, paymentID, orderNumber string) (*order.Order, error) {
	o, err := h.orders.FindByPaymentID(ctx, paymentID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	if orderNumber != "" {
		return h.orders.FindByOrderNumber(ctx, orderNumber)
	}
	return nil, shared.ErrNotFound
}
