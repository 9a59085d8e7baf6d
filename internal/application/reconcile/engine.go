// Package reconcile applies externally observed order state to the local
// order store. All webhook handlers and the batch loop funnel their
// proposed changes through the Engine so that transition rules, optimistic
// locking and compensation behave identically regardless of trigger.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/infrastructure/erp"
	"github.com/storefront/integration/internal/infrastructure/notifier"
)

// saveAttempts bounds optimistic-lock retries before giving up. Conflicts
// are rare; two is enough to absorb a single interleaved webhook.
const saveAttempts = 3

// ERPWriter is the outbound ERP surface the engine needs.
type ERPWriter interface {
	UpsertOrder(ctx context.Context, req erp.UpsertOrderRequest) (*erp.OrderSnapshot, error)
}

// Metrics receives transition and sync outcomes. telemetry.WebhookMetrics
// implements it; a nil Engine metrics field disables recording.
type Metrics interface {
	RecordTransition(ctx context.Context, result order.ApplyResult)
	RecordERPSync(ctx context.Context, outcome string)
}

// TransitionOutcome describes what a proposed status did to an order.
type TransitionOutcome struct {
	Result order.ApplyResult
	From   order.Status
	To     order.Status
}

// PaymentOutcome describes the result of a payment approval chain.
// ERP sync failures are partial successes: the local order is updated
// and the outcome carries the failure for the caller to record.
type PaymentOutcome struct {
	Advanced   bool
	ERPSynced  bool
	ERPOrderID string
	ERPError   string
}

// Engine reconciles order state against external notifications.
type Engine struct {
	orders  order.Repository
	erp     ERPWriter
	notify  notifier.Notifier
	metrics Metrics
	logger  *zap.Logger
}

// NewEngine creates a reconciliation engine. erpWriter, alerts and metrics
// may be nil; the corresponding behavior is skipped.
func NewEngine(orders order.Repository, erpWriter ERPWriter, alerts notifier.Notifier, metrics Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		orders:  orders,
		erp:     erpWriter,
		notify:  alerts,
		metrics: metrics,
		logger:  logger.Named("reconcile"),
	}
}

// ApplyStatus proposes a canonical status for an order and persists the
// result. Out-of-order notifications are rejected by the aggregate and
// reported, not failed.
func (e *Engine) ApplyStatus(ctx context.Context, o *order.Order, proposed order.Status) (TransitionOutcome, error) {
	outcome := TransitionOutcome{From: o.Status, To: proposed}

	var result order.ApplyResult
	err := e.saveWithRetry(ctx, o, func(current *order.Order) error {
		var applyErr error
		result, applyErr = current.ApplyStatus(proposed)
		if applyErr != nil {
			return applyErr
		}
		if result != order.ApplyResultApplied {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}

	outcome.Result = result
	e.recordTransition(ctx, result)

	switch result {
	case order.ApplyResultRejected:
		e.logger.Warn("status transition rejected",
			zap.String("order_number", o.OrderNumber),
			zap.String("current_status", string(outcome.From)),
			zap.String("proposed_status", string(proposed)),
		)
	case order.ApplyResultUnchanged:
		e.logger.Debug("status already current",
			zap.String("order_number", o.OrderNumber),
			zap.String("status", string(proposed)),
		)
	default:
		e.logger.Info("status applied",
			zap.String("order_number", o.OrderNumber),
			zap.String("from", string(outcome.From)),
			zap.String("to", string(proposed)),
		)
	}

	return outcome, nil
}

// ApprovePayment marks an order paid and pushes it to the ERP. The local
// write and the ERP write are individually fault tolerant: a failed ERP
// push never rolls back the approval, it raises an alert instead.
func (e *Engine) ApprovePayment(ctx context.Context, o *order.Order, paymentID string, total decimal.Decimal, paidAt time.Time) (PaymentOutcome, error) {
	var outcome PaymentOutcome

	err := e.saveWithRetry(ctx, o, func(current *order.Order) error {
		outcome.Advanced = current.ApprovePayment(paidAt)
		if paymentID != "" {
			current.PaymentID = paymentID
		}
		if !total.IsZero() {
			current.Total = total
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}

	if outcome.Advanced {
		e.recordTransition(ctx, order.ApplyResultApplied)
	}

	e.logger.Info("payment approved",
		zap.String("order_number", o.OrderNumber),
		zap.String("payment_id", paymentID),
		zap.Bool("advanced", outcome.Advanced),
	)

	if e.erp == nil {
		outcome.ERPSynced = true
		return outcome, nil
	}

	// A replayed approval that is already linked was pushed before;
	// pushing again would create the order twice on the ERP side.
	if !outcome.Advanced && o.ERPOrderID != "" {
		outcome.ERPSynced = true
		outcome.ERPOrderID = o.ERPOrderID
		return outcome, nil
	}

	snapshot, err := e.erp.UpsertOrder(ctx, erp.UpsertOrderRequest{
		Number:    o.OrderNumber,
		PaymentID: o.PaymentID,
		Total:     o.Total,
		PaidAt:    o.PaidAt,
	})
	if err != nil {
		outcome.ERPError = err.Error()
		e.recordERPSync(ctx, "error")
		e.logger.Error("ERP push failed after payment approval",
			zap.String("order_number", o.OrderNumber),
			zap.Error(err),
		)
		e.alert(ctx, notifier.Alert{
			Severity: notifier.SeverityError,
			Subject:  "erp_sync_failed",
			Message:  "order approved but ERP write failed",
			Fields: map[string]string{
				"order_number": o.OrderNumber,
				"payment_id":   o.PaymentID,
				"error":        err.Error(),
			},
		})
		return outcome, nil
	}

	outcome.ERPSynced = true
	outcome.ERPOrderID = snapshot.ID
	e.recordERPSync(ctx, "success")

	err = e.saveWithRetry(ctx, o, func(current *order.Order) error {
		current.LinkERPOrder(snapshot.ID)
		current.MarkSynced(time.Now())
		return nil
	})
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// SetTracking stores carrier tracking details on an order.
func (e *Engine) SetTracking(ctx context.Context, o *order.Order, trackingCode, carrier string) error {
	return e.saveWithRetry(ctx, o, func(current *order.Order) error {
		current.SetTracking(trackingCode, carrier)
		return nil
	})
}

// LinkERPOrder records the ERP-side identifier for an order. The link is
// set once; later calls with a different id are ignored by the aggregate.
func (e *Engine) LinkERPOrder(ctx context.Context, o *order.Order, erpOrderID string) error {
	if erpOrderID == "" || o.ERPOrderID != "" {
		return nil
	}
	return e.saveWithRetry(ctx, o, func(current *order.Order) error {
		current.LinkERPOrder(erpOrderID)
		return nil
	})
}

// MarkSynced records a successful read-back against the external systems.
func (e *Engine) MarkSynced(ctx context.Context, o *order.Order, at time.Time) error {
	return e.saveWithRetry(ctx, o, func(current *order.Order) error {
		current.MarkSynced(at)
		return nil
	})
}

// errNoChange signals that mutate left the aggregate untouched and the
// save can be skipped.
var errNoChange = errors.New("no change")

// saveWithRetry runs mutate on the aggregate and saves under optimistic
// lock, reloading and re-applying on version conflicts.
func (e *Engine) saveWithRetry(ctx context.Context, o *order.Order, mutate func(*order.Order) error) error {
	for attempt := 0; ; attempt++ {
		if err := mutate(o); err != nil {
			if errors.Is(err, errNoChange) {
				return nil
			}
			return err
		}

		err := e.orders.SaveWithLock(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt >= saveAttempts-1 {
			return err
		}

		fresh, findErr := e.orders.FindByID(ctx, o.ID)
		if findErr != nil {
			return findErr
		}
		*o = *fresh

		e.logger.Debug("retrying after version conflict",
			zap.String("order_number", o.OrderNumber),
			zap.Int("attempt", attempt+1),
		)
	}
}

func (e *Engine) recordTransition(ctx context.Context, result order.ApplyResult) {
	if e.metrics != nil {
		e.metrics.RecordTransition(ctx, result)
	}
}

func (e *Engine) recordERPSync(ctx context.Context, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordERPSync(ctx, outcome)
	}
}

func (e *Engine) alert(ctx context.Context, a notifier.Alert) {
	if e.notify == nil {
		return
	}
	if err := e.notify.Notify(ctx, a); err != nil {
		e.logger.Warn("alert delivery failed", zap.Error(err))
	}
}
