package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/webhook"
)

// Processing outcomes recorded per delivery.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// WebhookMetrics tracks inbound webhook traffic, order state transitions
// and outbound ERP sync activity.
type WebhookMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	receivedTotal      *Counter
	processedTotal     *Counter
	processingDuration *Histogram
	transitionTotal    *Counter
	erpSyncTotal       *Counter
	reconcileTotal     *Counter
}

// WebhookMetricsConfig holds configuration for webhook metrics.
type WebhookMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewWebhookMetrics creates a new WebhookMetrics instance.
func NewWebhookMetrics(cfg WebhookMetricsConfig) (*WebhookMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	wm := &WebhookMetrics{
		meter:  cfg.Meter,
		logger: logger,
	}

	var err error

	wm.receivedTotal, err = NewCounter(
		cfg.Meter,
		"integration_webhook_received_total",
		"Total number of webhook deliveries received",
		"{deliveries}",
	)
	if err != nil {
		return nil, err
	}

	wm.processedTotal, err = NewCounter(
		cfg.Meter,
		"integration_webhook_processed_total",
		"Total number of webhook deliveries processed, by outcome",
		"{deliveries}",
	)
	if err != nil {
		return nil, err
	}

	wm.processingDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "integration_webhook_processing_duration_seconds",
		Description: "Webhook processing duration from receipt to final status",
		Unit:        "s",
		Boundaries:  []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	if err != nil {
		return nil, err
	}

	wm.transitionTotal, err = NewCounter(
		cfg.Meter,
		"integration_order_transitions_total",
		"Order status transition attempts, by result",
		"{transitions}",
	)
	if err != nil {
		return nil, err
	}

	wm.erpSyncTotal, err = NewCounter(
		cfg.Meter,
		"integration_erp_sync_total",
		"Outbound ERP sync attempts, by outcome",
		"{requests}",
	)
	if err != nil {
		return nil, err
	}

	wm.reconcileTotal, err = NewCounter(
		cfg.Meter,
		"integration_reconcile_orders_total",
		"Orders examined by the batch reconciliation loop, by outcome",
		"{orders}",
	)
	if err != nil {
		return nil, err
	}

	return wm, nil
}

// RecordReceived counts a delivery at the moment it is accepted onto the
// audit log, before any verification.
func (wm *WebhookMetrics) RecordReceived(ctx context.Context, source webhook.Source) {
	wm.receivedTotal.Inc(ctx, attribute.String("source", string(source)))
}

// RecordProcessed counts the terminal outcome of a delivery and its
// processing duration.
func (wm *WebhookMetrics) RecordProcessed(ctx context.Context, source webhook.Source, outcome string, elapsed time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("source", string(source)),
		attribute.String("outcome", outcome),
	}
	wm.processedTotal.Inc(ctx, attrs...)
	wm.processingDuration.RecordDuration(ctx, elapsed, attrs...)
}

// RecordTransition counts an order status transition attempt.
func (wm *WebhookMetrics) RecordTransition(ctx context.Context, result order.ApplyResult) {
	wm.transitionTotal.Inc(ctx, attribute.String("result", string(result)))
}

// RecordERPSync counts an outbound ERP write attempt.
func (wm *WebhookMetrics) RecordERPSync(ctx context.Context, outcome string) {
	wm.erpSyncTotal.Inc(ctx, attribute.String("outcome", outcome))
}

// RecordReconciled counts an order examined by the reconciliation loop.
func (wm *WebhookMetrics) RecordReconciled(ctx context.Context, outcome string) {
	wm.reconcileTotal.Inc(ctx, attribute.String("outcome", outcome))
}
